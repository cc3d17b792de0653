package ws

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-mirror-service/internal/mocks"
	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/status"
	"chat-mirror-service/internal/work"
)

type pipelineFixture struct {
	rooms      *mocks.RoomRepositoryMock
	messages   *mocks.MessageRepositoryMock
	readStates *mocks.ReadStateRepositoryMock
	blocks     *mocks.BlockRepositoryMock
	bridge     *mocks.SyncBridgeMock
	hub        *Hub
	presence   *Presence
	pool       *work.Pool
	pipeline   *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		rooms:      new(mocks.RoomRepositoryMock),
		messages:   new(mocks.MessageRepositoryMock),
		readStates: new(mocks.ReadStateRepositoryMock),
		blocks:     new(mocks.BlockRepositoryMock),
		bridge:     new(mocks.SyncBridgeMock),
		hub:        NewHub(),
		presence:   NewPresence(),
		pool:       work.NewPool(1),
	}
	f.pipeline = NewPipeline(f.rooms, f.messages, f.readStates, f.blocks, status.NewEngine(f.messages), f.bridge, f.hub, f.presence, f.pool)
	return f
}

func TestSendBlockedPairPersistsWithoutSideEffects(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 1, Kind: models.RoomPrivate}
	stored := models.Message{ID: 10, RoomID: 1, AuthorID: 1, Body: "hi", CreatedAt: time.Now()}

	f.presence.Join(1, 2)

	f.rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	f.blocks.On("BlockedEitherWay", mock.Anything, 1, 2).Return(true, nil).Once()
	f.messages.On("Create", mock.Anything, 1, 1, "hi").Return(stored, nil).Once()

	msg, err := f.pipeline.Send(context.Background(), room, 1, "hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusSent, msg.Status)

	f.pool.Shutdown()
	f.messages.AssertExpectations(t)
	// The row lands, but nothing moves past it: no unhide, no status
	// movement, no mirror push.
	f.readStates.AssertNotCalled(t, "UnhideRoom", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "UpgradeInbound", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "UpgradeStatus", mock.Anything, mock.Anything, mock.Anything)
	f.bridge.AssertNotCalled(t, "PushMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendPersistsAndPushes(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 1, Kind: models.RoomPrivate}
	stored := models.Message{ID: 10, RoomID: 1, AuthorID: 1, Body: "hi", CreatedAt: time.Now()}

	f.rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	f.blocks.On("BlockedEitherWay", mock.Anything, 1, 2).Return(false, nil).Once()
	f.messages.On("Create", mock.Anything, 1, 1, "hi").Return(stored, nil).Once()
	f.readStates.On("UnhideRoom", mock.Anything, 1, 1).Return(nil).Once()
	f.readStates.On("UnhideRoom", mock.Anything, 2, 1).Return(nil).Once()
	f.messages.On("UpgradeInbound", mock.Anything, 1, 1, models.StatusRead).Return([]int{}, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 1, 1, 10).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.bridge.On("PushMessage", mock.Anything, room, stored).Return("ext-1", nil).Once()
	f.bridge.On("BindMessage", mock.Anything, stored, "ext-1").Return(true, nil).Once()

	msg, err := f.pipeline.Send(context.Background(), room, 1, "hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, 10, msg.ID)

	f.pool.Shutdown()
	f.messages.AssertExpectations(t)
	f.bridge.AssertExpectations(t)
}

func TestSendDeliversWhenRecipientOnline(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 1, Kind: models.RoomPrivate}
	stored := models.Message{ID: 10, RoomID: 1, AuthorID: 1, Body: "hi", CreatedAt: time.Now()}

	f.presence.Join(1, 2)

	f.rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	f.blocks.On("BlockedEitherWay", mock.Anything, 1, 2).Return(false, nil).Once()
	f.messages.On("Create", mock.Anything, 1, 1, "hi").Return(stored, nil).Once()
	f.readStates.On("UnhideRoom", mock.Anything, mock.Anything, 1).Return(nil)
	f.messages.On("UpgradeInbound", mock.Anything, 1, 1, models.StatusRead).Return([]int{}, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 1, 1, 10).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.messages.On("UpgradeStatus", mock.Anything, 10, models.StatusDelivered).Return(true, nil).Once()
	f.bridge.On("PushMessage", mock.Anything, room, mock.AnythingOfType("models.Message")).Return("", nil).Once()

	msg, err := f.pipeline.Send(context.Background(), room, 1, "hi")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.StatusDelivered, msg.Status)

	f.pool.Shutdown()
	f.messages.AssertExpectations(t)
}

func TestSendReplyFastForwardsPeerMessages(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 1, Kind: models.RoomPrivate}
	stored := models.Message{ID: 10, RoomID: 1, AuthorID: 1, Body: "reply", CreatedAt: time.Now()}

	f.rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	f.blocks.On("BlockedEitherWay", mock.Anything, 1, 2).Return(false, nil).Once()
	f.messages.On("Create", mock.Anything, 1, 1, "reply").Return(stored, nil).Once()
	f.readStates.On("UnhideRoom", mock.Anything, mock.Anything, 1).Return(nil)
	f.messages.On("UpgradeInbound", mock.Anything, 1, 1, models.StatusRead).Return([]int{7, 8}, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 1, 1, 10).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.bridge.On("PushMessage", mock.Anything, room, stored).Return("", nil).Once()

	_, err := f.pipeline.Send(context.Background(), room, 1, "reply")
	require.NoError(t, err)

	f.pool.Shutdown()
	f.messages.AssertExpectations(t)
}

func TestSendGroupSkipsBlockCheckAndFastForward(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 2, Kind: models.RoomGroup}
	stored := models.Message{ID: 11, RoomID: 2, AuthorID: 1, Body: "hi all", CreatedAt: time.Now()}

	f.rooms.On("Members", mock.Anything, 2).Return([]int{1, 2, 3}, nil).Once()
	f.messages.On("Create", mock.Anything, 2, 1, "hi all").Return(stored, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 2, 1, 11).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.bridge.On("PushMessage", mock.Anything, room, stored).Return("", nil).Once()

	_, err := f.pipeline.Send(context.Background(), room, 1, "hi all")
	require.NoError(t, err)

	f.pool.Shutdown()
	f.blocks.AssertNotCalled(t, "BlockedEitherWay", mock.Anything, mock.Anything, mock.Anything)
	f.messages.AssertNotCalled(t, "UpgradeInbound", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.readStates.AssertNotCalled(t, "UnhideRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMirrorBindEmitsStatusUpdate(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 2, Kind: models.RoomGroup}
	stored := models.Message{ID: 11, RoomID: 2, AuthorID: 1, Body: "hi all", CreatedAt: time.Now()}

	client := newTestClient(t, f.hub, 2, ConnInfo{ConnID: "c1", UserID: 2})

	f.rooms.On("Members", mock.Anything, 2).Return([]int{1, 2}, nil).Once()
	f.messages.On("Create", mock.Anything, 2, 1, "hi all").Return(stored, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 2, 1, 11).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.bridge.On("PushMessage", mock.Anything, room, stored).Return("ext-11", nil).Once()
	f.bridge.On("BindMessage", mock.Anything, stored, "ext-11").Return(true, nil).Once()

	_, err := f.pipeline.Send(context.Background(), room, 1, "hi all")
	require.NoError(t, err)

	first := readEvent(t, client)
	assert.Equal(t, models.EventNewMessage, first["type"])

	// The mirror bind announces itself with a status event so senders can
	// flip their ticks.
	second := readEvent(t, client)
	assert.Equal(t, models.EventStatusUpdate, second["type"])
	assert.Equal(t, float64(11), second["message_id"])

	f.pool.Shutdown()
	f.bridge.AssertExpectations(t)
}

func TestSendTruncatesOversizedBody(t *testing.T) {
	f := newPipelineFixture()
	room := models.Room{ID: 2, Kind: models.RoomGroup}
	long := strings.Repeat("x", models.MaxBodyLength+50)
	want := strings.Repeat("x", models.MaxBodyLength)
	stored := models.Message{ID: 12, RoomID: 2, AuthorID: 1, Body: want, CreatedAt: time.Now()}

	f.rooms.On("Members", mock.Anything, 2).Return([]int{1, 2}, nil).Once()
	f.messages.On("Create", mock.Anything, 2, 1, want).Return(stored, nil).Once()
	f.messages.On("PrevAuthoredBefore", mock.Anything, 2, 1, 12).Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	f.bridge.On("PushMessage", mock.Anything, room, stored).Return("", nil).Once()

	_, err := f.pipeline.Send(context.Background(), room, 1, long)
	require.NoError(t, err)

	f.pool.Shutdown()
	f.messages.AssertExpectations(t)
}
