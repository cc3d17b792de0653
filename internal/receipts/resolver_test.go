package receipts

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-mirror-service/internal/mocks"
	"chat-mirror-service/internal/models"
)

func privateRoom() models.Room {
	return models.Room{ID: 1, Kind: models.RoomPrivate}
}

func mirrored(id, author int, mirrorID string, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		RoomID:    1,
		AuthorID:  author,
		MirrorID:  sql.NullString{String: mirrorID, Valid: true},
		CreatedAt: at,
	}
}

func TestAnnotateListPointerMidway(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewResolver(remote, rooms, new(mocks.MessageRepositoryMock))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		mirrored(1, 1, "m1", base),
		mirrored(2, 1, "m2", base.Add(time.Minute)),
		mirrored(3, 1, "m3", base.Add(2*time.Minute)),
		mirrored(4, 1, "m4", base.Add(3*time.Minute)),
	}

	rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	remote.On("PeerLastReadMessageID", mock.Anything, privateRoom(), 2).Return("m3", nil).Once()

	read, marker := resolver.AnnotateList(context.Background(), privateRoom(), 1, msgs)

	assert.Equal(t, []bool{true, true, true, false}, read)
	assert.Equal(t, 2, marker)
	remote.AssertExpectations(t)
}

func TestAnnotateListImplicitReadFromPeerReply(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewResolver(remote, rooms, new(mocks.MessageRepositoryMock))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		mirrored(1, 1, "m1", base),
		mirrored(2, 2, "m2", base.Add(time.Minute)),
		mirrored(3, 1, "m3", base.Add(2*time.Minute)),
	}

	rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	remote.On("PeerLastReadMessageID", mock.Anything, privateRoom(), 2).Return("", nil).Once()

	// No pointer, but the peer replied after my first message: everything up
	// to the reply is read.
	read, marker := resolver.AnnotateList(context.Background(), privateRoom(), 1, msgs)

	assert.Equal(t, []bool{true, false, false}, read)
	assert.Equal(t, 0, marker)
}

func TestAnnotateListNoEvidence(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewResolver(remote, rooms, new(mocks.MessageRepositoryMock))

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		mirrored(1, 1, "m1", base),
	}

	rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	remote.On("PeerLastReadMessageID", mock.Anything, privateRoom(), 2).Return("", nil).Once()

	read, marker := resolver.AnnotateList(context.Background(), privateRoom(), 1, msgs)

	assert.Equal(t, []bool{false}, read)
	assert.Equal(t, -1, marker)
}

func TestReadByPeerExactPointerMatch(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	rooms := new(mocks.RoomRepositoryMock)
	resolver := NewResolver(remote, rooms, new(mocks.MessageRepositoryMock))

	msg := mirrored(3, 1, "m3", time.Now())
	rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	remote.On("PeerLastReadMessageID", mock.Anything, privateRoom(), 2).Return("m3", nil).Once()

	assert.True(t, resolver.ReadByPeer(context.Background(), privateRoom(), 1, msg))
}

func TestReadByPeerPointerOnPeersOwnMessage(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	resolver := NewResolver(remote, rooms, messages)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mine := mirrored(1, 1, "m1", base)
	pointed := mirrored(2, 2, "p1", base.Add(time.Minute))

	rooms.On("Members", mock.Anything, 1).Return([]int{1, 2}, nil).Once()
	remote.On("PeerLastReadMessageID", mock.Anything, privateRoom(), 2).Return("p1", nil).Once()
	messages.On("GetByMirrorID", mock.Anything, "p1").Return(pointed, nil).Once()

	// The pointer references the peer's own later message; mine is earlier so
	// it is read.
	assert.True(t, resolver.ReadByPeer(context.Background(), privateRoom(), 1, mine))
}

func TestReadByPeerNeverForOthersMessages(t *testing.T) {
	resolver := NewResolver(new(mocks.SyncBridgeMock), new(mocks.RoomRepositoryMock), new(mocks.MessageRepositoryMock))

	theirs := mirrored(2, 2, "m2", time.Now())
	assert.False(t, resolver.ReadByPeer(context.Background(), privateRoom(), 1, theirs))
}

func TestGroupReadByTimestamp(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	resolver := NewResolver(remote, new(mocks.RoomRepositoryMock), new(mocks.MessageRepositoryMock))

	room := models.Room{ID: 2, Kind: models.RoomGroup}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cutoff := base.Add(time.Minute)

	msgs := []models.Message{
		mirrored(1, 1, "g1", base),
		mirrored(2, 1, "g2", base.Add(2*time.Minute)),
	}
	msgs[0].RoomID = 2
	msgs[1].RoomID = 2

	remote.On("GroupLastRead", mock.Anything, room).Return(&cutoff, nil).Once()

	read, marker := resolver.AnnotateList(context.Background(), room, 1, msgs)

	assert.Equal(t, []bool{true, false}, read)
	assert.Equal(t, 0, marker)
}

func TestGroupReadNoEvidence(t *testing.T) {
	remote := new(mocks.SyncBridgeMock)
	resolver := NewResolver(remote, new(mocks.RoomRepositoryMock), new(mocks.MessageRepositoryMock))

	room := models.Room{ID: 2, Kind: models.RoomGroup}
	remote.On("GroupLastRead", mock.Anything, room).Return(nil, nil).Once()

	msg := mirrored(1, 1, "g1", time.Now())
	msg.RoomID = 2

	read, marker := resolver.AnnotateList(context.Background(), room, 1, []models.Message{msg})
	assert.Equal(t, []bool{false}, read)
	assert.Equal(t, -1, marker)
}
