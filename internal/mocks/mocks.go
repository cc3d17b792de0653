package mocks

import (
	"context"
	"database/sql"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-mirror-service/internal/mirror"
	"chat-mirror-service/internal/models"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Get(0).(models.Room), args.Error(1)
}

func (m *RoomRepositoryMock) CreateGroupRoom(ctx context.Context, adminID int, name string, memberIDs []int) (models.Room, error) {
	args := m.Called(ctx, adminID, name, memberIDs)
	return args.Get(0).(models.Room), args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(models.Room), args.Error(1)
}

func (m *RoomRepositoryMock) Members(ctx context.Context, roomID int) ([]int, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]int), args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID int, userID int) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID int, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) RemoveMember(ctx context.Context, roomID int, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) BindMirror(ctx context.Context, roomID int, mirrorID string) (bool, error) {
	args := m.Called(ctx, roomID, mirrorID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.Room), args.Error(1)
}

func (m *RoomRepositoryMock) DeleteRoom(ctx context.Context, roomID int, adminID int) error {
	args := m.Called(ctx, roomID, adminID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, roomID int, authorID int, body string) (models.Message, error) {
	args := m.Called(ctx, roomID, authorID, body)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) GetByMirrorID(ctx context.Context, mirrorID string) (models.Message, error) {
	args := m.Called(ctx, mirrorID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) ExistsByMirrorID(ctx context.Context, mirrorID string) (bool, error) {
	args := m.Called(ctx, mirrorID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) PrevAuthoredBefore(ctx context.Context, roomID int, authorID int, beforeID int) (models.Message, error) {
	args := m.Called(ctx, roomID, authorID, beforeID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) UpgradeStatus(ctx context.Context, messageID int, target int) (bool, error) {
	args := m.Called(ctx, messageID, target)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) UpgradeInbound(ctx context.Context, roomID int, viewerID int, target int) ([]int, error) {
	args := m.Called(ctx, roomID, viewerID, target)
	return args.Get(0).([]int), args.Error(1)
}

func (m *MessageRepositoryMock) BindMirror(ctx context.Context, messageID int, mirrorID string, senderUID string) (bool, error) {
	args := m.Called(ctx, messageID, mirrorID, senderUID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) Import(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int, authorID int) error {
	args := m.Called(ctx, messageID, authorID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) CountInboundAfter(ctx context.Context, roomID int, viewerID int, after sql.NullTime) (int, error) {
	args := m.Called(ctx, roomID, viewerID, after)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) LatestInboundAt(ctx context.Context, roomID int, viewerID int) (*time.Time, error) {
	args := m.Called(ctx, roomID, viewerID)
	if ts := args.Get(0); ts != nil {
		return ts.(*time.Time), args.Error(1)
	}
	return nil, args.Error(1)
}

type ReadStateRepositoryMock struct {
	mock.Mock
}

func (m *ReadStateRepositoryMock) MarkReadOnOpen(ctx context.Context, userID int, roomID int) error {
	args := m.Called(ctx, userID, roomID)
	return args.Error(0)
}

func (m *ReadStateRepositoryMock) HideRoom(ctx context.Context, userID int, roomID int) error {
	args := m.Called(ctx, userID, roomID)
	return args.Error(0)
}

func (m *ReadStateRepositoryMock) UnhideRoom(ctx context.Context, userID int, roomID int) error {
	args := m.Called(ctx, userID, roomID)
	return args.Error(0)
}

func (m *ReadStateRepositoryMock) SetArchived(ctx context.Context, userID int, roomID int, archived bool) error {
	args := m.Called(ctx, userID, roomID, archived)
	return args.Error(0)
}

func (m *ReadStateRepositoryMock) GetStates(ctx context.Context, userID int, roomIDs []int) (map[int]models.ReadState, error) {
	args := m.Called(ctx, userID, roomIDs)
	return args.Get(0).(map[int]models.ReadState), args.Error(1)
}

func (m *ReadStateRepositoryMock) HideMessage(ctx context.Context, userID int, messageID int) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

func (m *ReadStateRepositoryMock) IsMessageHidden(ctx context.Context, userID int, messageID int) (bool, error) {
	args := m.Called(ctx, userID, messageID)
	return args.Bool(0), args.Error(1)
}

type BlockRepositoryMock struct {
	mock.Mock
}

func (m *BlockRepositoryMock) CreateBlock(ctx context.Context, blockerID int, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockRepositoryMock) DeleteBlock(ctx context.Context, blockerID int, blockedID int) error {
	args := m.Called(ctx, blockerID, blockedID)
	return args.Error(0)
}

func (m *BlockRepositoryMock) BlockedEitherWay(ctx context.Context, userA int, userB int) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

func (m *DirectoryMock) ExternalID(ctx context.Context, userID int) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *DirectoryMock) ResolveExternalID(ctx context.Context, externalID string) (int, error) {
	args := m.Called(ctx, externalID)
	return args.Int(0), args.Error(1)
}

func (m *DirectoryMock) BulkUsers(ctx context.Context, ids []int) (map[int]string, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(map[int]string), args.Error(1)
}

type SyncBridgeMock struct {
	mock.Mock
}

func (m *SyncBridgeMock) Bind(ctx context.Context, room models.Room) (string, error) {
	args := m.Called(ctx, room)
	return args.String(0), args.Error(1)
}

func (m *SyncBridgeMock) ImportMessages(ctx context.Context, room models.Room) (int, error) {
	args := m.Called(ctx, room)
	return args.Int(0), args.Error(1)
}

func (m *SyncBridgeMock) UpdateReadState(ctx context.Context, room models.Room, readerID int, lastReadMirrorID string) error {
	args := m.Called(ctx, room, readerID, lastReadMirrorID)
	return args.Error(0)
}

func (m *SyncBridgeMock) AddMembers(ctx context.Context, room models.Room, userIDs []int) error {
	args := m.Called(ctx, room, userIDs)
	return args.Error(0)
}

func (m *SyncBridgeMock) RemoveMember(ctx context.Context, room models.Room, userID int) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}

func (m *SyncBridgeMock) MarkDeleted(ctx context.Context, room models.Room, msg models.Message, deletedBy int) error {
	args := m.Called(ctx, room, msg, deletedBy)
	return args.Error(0)
}

func (m *SyncBridgeMock) HideForUser(ctx context.Context, msg models.Message, userID int) error {
	args := m.Called(ctx, msg, userID)
	return args.Error(0)
}

func (m *SyncBridgeMock) SetBlockFlags(ctx context.Context, blockerUID, blockedUID string) error {
	args := m.Called(ctx, blockerUID, blockedUID)
	return args.Error(0)
}

func (m *SyncBridgeMock) ClearBlockFlags(ctx context.Context, blockerUID, blockedUID string) error {
	args := m.Called(ctx, blockerUID, blockedUID)
	return args.Error(0)
}

func (m *SyncBridgeMock) PushMessage(ctx context.Context, room models.Room, msg models.Message) (string, error) {
	args := m.Called(ctx, room, msg)
	return args.String(0), args.Error(1)
}

func (m *SyncBridgeMock) BindMessage(ctx context.Context, msg models.Message, externalID string) (bool, error) {
	args := m.Called(ctx, msg, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *SyncBridgeMock) PeerLastReadMessageID(ctx context.Context, room models.Room, peerID int) (string, error) {
	args := m.Called(ctx, room, peerID)
	return args.String(0), args.Error(1)
}

func (m *SyncBridgeMock) GroupLastRead(ctx context.Context, room models.Room) (*time.Time, error) {
	args := m.Called(ctx, room)
	if ts := args.Get(0); ts != nil {
		return ts.(*time.Time), args.Error(1)
	}
	return nil, args.Error(1)
}

type MirrorStoreMock struct {
	mock.Mock
}

func (m *MirrorStoreMock) GetRoom(ctx context.Context, id string) (mirror.RoomDoc, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mirror.RoomDoc), args.Error(1)
}

func (m *MirrorStoreMock) FindRoomByPairKey(ctx context.Context, pairKey string) (mirror.RoomDoc, error) {
	args := m.Called(ctx, pairKey)
	return args.Get(0).(mirror.RoomDoc), args.Error(1)
}

func (m *MirrorStoreMock) CreateRoom(ctx context.Context, doc mirror.RoomDoc) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MirrorStoreMock) MergeRoom(ctx context.Context, roomID string, fields map[string]any) error {
	args := m.Called(ctx, roomID, fields)
	return args.Error(0)
}

func (m *MirrorStoreMock) AddRoomMembers(ctx context.Context, roomID string, uids []string) error {
	args := m.Called(ctx, roomID, uids)
	return args.Error(0)
}

func (m *MirrorStoreMock) RemoveRoomMember(ctx context.Context, roomID string, uid string) error {
	args := m.Called(ctx, roomID, uid)
	return args.Error(0)
}

func (m *MirrorStoreMock) CreateMessage(ctx context.Context, doc mirror.MessageDoc) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

func (m *MirrorStoreMock) ListMessages(ctx context.Context, roomID string, limit int) ([]mirror.MessageDoc, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]mirror.MessageDoc), args.Error(1)
}

func (m *MirrorStoreMock) ListMessagesUnordered(ctx context.Context, roomID string) ([]mirror.MessageDoc, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]mirror.MessageDoc), args.Error(1)
}

func (m *MirrorStoreMock) MergeMessage(ctx context.Context, messageID string, fields map[string]any) error {
	args := m.Called(ctx, messageID, fields)
	return args.Error(0)
}

func (m *MirrorStoreMock) AddMessageHiddenFor(ctx context.Context, messageID string, uid string) error {
	args := m.Called(ctx, messageID, uid)
	return args.Error(0)
}
