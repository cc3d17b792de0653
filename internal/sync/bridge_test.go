package sync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-mirror-service/internal/mirror"
	"chat-mirror-service/internal/mocks"
	"chat-mirror-service/internal/models"
)

func newTestBridge() (*Bridge, *mocks.MirrorStoreMock, *mocks.RoomRepositoryMock, *mocks.MessageRepositoryMock, *mocks.DirectoryMock) {
	store := new(mocks.MirrorStoreMock)
	rooms := new(mocks.RoomRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	dir := new(mocks.DirectoryMock)
	return NewBridge(store, rooms, messages, dir, 300), store, rooms, messages, dir
}

func TestPairKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("uidA", "uidB"), PairKey("uidB", "uidA"))
	assert.Equal(t, "uidA#uidB", PairKey("uidB", "uidA"))
	assert.Equal(t, "priv_uidA#uidB", CanonicalPrivateID("uidB", "uidA"))
}

func TestBindPrivateCreatesCanonicalDoc(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil).Once()
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil).Once()
	store.On("FindRoomByPairKey", mock.Anything, "ua#ub").Return(mirror.RoomDoc{}, mirror.ErrDocNotFound).Once()
	store.On("CreateRoom", mock.Anything, mock.MatchedBy(func(doc mirror.RoomDoc) bool {
		return doc.ID == "priv_ua#ub" && doc.Type == mirror.DocPrivate && doc.PairKey == "ua#ub"
	})).Return(nil).Once()
	rooms.On("BindMirror", mock.Anything, 5, "priv_ua#ub").Return(true, nil).Once()

	id, err := bridge.Bind(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "priv_ua#ub", id)
	store.AssertExpectations(t)
	rooms.AssertExpectations(t)
}

func TestBindPrivateRebindsByPairKey(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate}

	existing := mirror.RoomDoc{ID: "legacy_doc", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil).Once()
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil).Once()
	store.On("FindRoomByPairKey", mock.Anything, "ua#ub").Return(existing, nil).Once()
	rooms.On("BindMirror", mock.Anything, 5, "legacy_doc").Return(true, nil).Once()

	id, err := bridge.Bind(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "legacy_doc", id)
	store.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything)
}

func TestBindPrivateValidExistingBindingShortCircuits(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil).Once()
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil).Once()
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil).Once()

	id, err := bridge.Bind(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, "priv_ua#ub", id)
	rooms.AssertNotCalled(t, "BindMirror", mock.Anything, mock.Anything, mock.Anything)
}

func TestBindPrivateMissingIdentityIsTerminal(t *testing.T) {
	bridge, _, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil).Once()
	dir.On("ExternalID", mock.Anything, 2).Return("", nil).Once()

	_, err := bridge.Bind(context.Background(), room)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestPushMessageEmptyBodyIsNoop(t *testing.T) {
	bridge, store, _, _, _ := newTestBridge()

	id, err := bridge.PushMessage(context.Background(), models.Room{ID: 1, Kind: models.RoomPrivate}, models.Message{ID: 9})
	require.NoError(t, err)
	assert.Empty(t, id)
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestPushMessageWritesSummary(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}
	msg := models.Message{ID: 9, RoomID: 5, AuthorID: 1, Body: "hello", CreatedAt: time.Now()}

	bound := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}

	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil).Once()
	store.On("CreateMessage", mock.Anything, mock.MatchedBy(func(doc mirror.MessageDoc) bool {
		return doc.RoomID == "priv_ua#ub" && doc.Text == "hello" && doc.SenderID == "ua"
	})).Return("ext-1", nil).Once()
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", mock.MatchedBy(func(fields map[string]any) bool {
		return fields["lastMessageId"] == "ext-1" && fields["lastMessageIsRead"] == false
	})).Return(nil).Once()

	id, err := bridge.PushMessage(context.Background(), room, msg)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
	store.AssertExpectations(t)
}

func TestBindMessageAlreadyBound(t *testing.T) {
	bridge, _, _, messages, _ := newTestBridge()

	msg := models.Message{ID: 9, MirrorID: sql.NullString{String: "ext-1", Valid: true}}
	bound, err := bridge.BindMessage(context.Background(), msg, "ext-2")
	require.NoError(t, err)
	assert.False(t, bound)
	messages.AssertNotCalled(t, "BindMirror", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestImportMessagesSkipsExisting(t *testing.T) {
	bridge, store, rooms, messages, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// newest-first, as the store returns them
	docs := []mirror.MessageDoc{
		{ID: "ext-2", RoomID: "priv_ua#ub", Text: "two", SenderID: "ub", CreatedAt: base.Add(time.Minute)},
		{ID: "ext-1", RoomID: "priv_ua#ub", Text: "one", SenderID: "ua", CreatedAt: base},
	}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil)
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil).Once()
	store.On("ListMessages", mock.Anything, "priv_ua#ub", 300).Return(docs, nil).Once()

	messages.On("ExistsByMirrorID", mock.Anything, "ext-1").Return(true, nil).Once()
	messages.On("ExistsByMirrorID", mock.Anything, "ext-2").Return(false, nil).Once()
	dir.On("ResolveExternalID", mock.Anything, "ub").Return(2, nil).Once()
	messages.On("Import", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.MirrorID.String == "ext-2" && m.AuthorID == 2 && m.Body == "two" && m.CreatedAt.Equal(base.Add(time.Minute))
	})).Return(models.Message{ID: 11}, nil).Once()

	imported, err := bridge.ImportMessages(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	messages.AssertExpectations(t)
}

func TestImportMessagesFallbackScan(t *testing.T) {
	bridge, store, rooms, messages, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	unordered := []mirror.MessageDoc{
		{ID: "ext-2", RoomID: "priv_ua#ub", Text: "two", SenderID: "ua", CreatedAt: base.Add(time.Minute)},
		{ID: "ext-1", RoomID: "priv_ua#ub", Text: "one", SenderID: "ua", CreatedAt: base},
	}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil)
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	dir.On("ResolveExternalID", mock.Anything, "ua").Return(1, nil)
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil).Once()
	store.On("ListMessages", mock.Anything, "priv_ua#ub", 300).Return(([]mirror.MessageDoc)(nil), assert.AnError).Once()
	store.On("ListMessagesUnordered", mock.Anything, "priv_ua#ub").Return(unordered, nil).Once()

	messages.On("ExistsByMirrorID", mock.Anything, mock.Anything).Return(false, nil)

	var order []string
	messages.On("Import", mock.Anything, mock.AnythingOfType("models.Message")).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).(models.Message).MirrorID.String)
	}).Return(models.Message{}, nil)

	imported, err := bridge.ImportMessages(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Equal(t, []string{"ext-1", "ext-2"}, order)
}

func TestImportMessagesIdempotent(t *testing.T) {
	bridge, store, rooms, messages, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"}}
	docs := []mirror.MessageDoc{
		{ID: "ext-1", RoomID: "priv_ua#ub", Text: "one", SenderID: "ua", CreatedAt: time.Now()},
	}

	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil)
	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil)
	store.On("ListMessages", mock.Anything, "priv_ua#ub", 300).Return(docs, nil)

	messages.On("ExistsByMirrorID", mock.Anything, "ext-1").Return(false, nil).Once()
	dir.On("ResolveExternalID", mock.Anything, "ua").Return(1, nil).Once()
	messages.On("Import", mock.Anything, mock.AnythingOfType("models.Message")).Return(models.Message{ID: 11}, nil).Once()

	imported, err := bridge.ImportMessages(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	// Second pass: the row now exists, nothing is imported again.
	messages.On("ExistsByMirrorID", mock.Anything, "ext-1").Return(true, nil).Once()
	imported, err = bridge.ImportMessages(context.Background(), room)
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	messages.AssertExpectations(t)
}

func TestSetBlockFlagsSeedsPairDoc(t *testing.T) {
	bridge, store, _, _, _ := newTestBridge()

	store.On("FindRoomByPairKey", mock.Anything, "ua#ub").Return(mirror.RoomDoc{}, mirror.ErrDocNotFound).Once()
	store.On("CreateRoom", mock.Anything, mock.MatchedBy(func(doc mirror.RoomDoc) bool {
		return doc.ID == "priv_ua#ub" && doc.Type == mirror.DocPrivate
	})).Return(nil).Once()
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", map[string]any{
		"memberMeta.ua.iBlockedPeer":   true,
		"memberMeta.ub.blockedByOther": true,
	}).Return(nil).Once()

	require.NoError(t, bridge.SetBlockFlags(context.Background(), "ua", "ub"))
	store.AssertExpectations(t)
}

func TestClearBlockFlags(t *testing.T) {
	bridge, store, _, _, _ := newTestBridge()

	existing := mirror.RoomDoc{ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub"}
	store.On("FindRoomByPairKey", mock.Anything, "ua#ub").Return(existing, nil).Once()
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", map[string]any{
		"memberMeta.ua.iBlockedPeer":   false,
		"memberMeta.ub.blockedByOther": false,
	}).Return(nil).Once()

	require.NoError(t, bridge.ClearBlockFlags(context.Background(), "ua", "ub"))
	store.AssertExpectations(t)
}

func TestUpdateReadStateFlipsSummaryForPeerMessage(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{
		ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"},
		LastMessageID: "ext-9", LastMessageSenderID: "ub",
	}

	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil)
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", mock.MatchedBy(func(fields map[string]any) bool {
		_, hasOpened := fields["memberMeta.ua.lastOpenedAt"]
		return hasOpened && fields["memberMeta.ua.lastReadMessageId"] == "ext-9"
	})).Return(nil).Once()
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", map[string]any{
		"lastMessageIsRead": true,
		"lastMessageStatus": "read",
	}).Return(nil).Once()

	require.NoError(t, bridge.UpdateReadState(context.Background(), room, 1, "ext-9"))
	store.AssertExpectations(t)
}

func TestUpdateReadStateOwnLastMessageDoesNotFlip(t *testing.T) {
	bridge, store, rooms, _, dir := newTestBridge()
	room := models.Room{ID: 5, Kind: models.RoomPrivate, MirrorID: sql.NullString{String: "priv_ua#ub", Valid: true}}

	bound := mirror.RoomDoc{
		ID: "priv_ua#ub", Type: mirror.DocPrivate, PairKey: "ua#ub", Members: []string{"ua", "ub"},
		LastMessageID: "ext-9", LastMessageSenderID: "ua",
	}

	dir.On("ExternalID", mock.Anything, 1).Return("ua", nil)
	dir.On("ExternalID", mock.Anything, 2).Return("ub", nil)
	rooms.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	store.On("GetRoom", mock.Anything, "priv_ua#ub").Return(bound, nil)
	store.On("MergeRoom", mock.Anything, "priv_ua#ub", mock.MatchedBy(func(fields map[string]any) bool {
		_, hasOpened := fields["memberMeta.ua.lastOpenedAt"]
		return hasOpened
	})).Return(nil).Once()

	require.NoError(t, bridge.UpdateReadState(context.Background(), room, 1, ""))
	store.AssertNotCalled(t, "MergeRoom", mock.Anything, "priv_ua#ub", map[string]any{
		"lastMessageIsRead": true,
		"lastMessageStatus": "read",
	})
}

func TestRemoveMemberArchivesSmallGroup(t *testing.T) {
	bridge, store, _, _, dir := newTestBridge()
	room := models.Room{ID: 7, Kind: models.RoomGroup, MirrorID: sql.NullString{String: "grp-1", Valid: true}}

	dir.On("ExternalID", mock.Anything, 3).Return("uc", nil).Once()
	store.On("RemoveRoomMember", mock.Anything, "grp-1", "uc").Return(nil).Once()
	store.On("GetRoom", mock.Anything, "grp-1").Return(mirror.RoomDoc{ID: "grp-1", Members: []string{"ua"}}, nil).Once()
	store.On("MergeRoom", mock.Anything, "grp-1", map[string]any{"archived": true}).Return(nil).Once()

	require.NoError(t, bridge.RemoveMember(context.Background(), room, 3))
	store.AssertExpectations(t)
}
