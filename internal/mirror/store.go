package mirror

import (
	"context"
	"errors"
)

// ErrDocNotFound reports that a mirror document does not exist.
var ErrDocNotFound = errors.New("mirror document not found")

// Store is the document-store surface the sync bridge depends on.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (RoomDoc, error)
	FindRoomByPairKey(ctx context.Context, pairKey string) (RoomDoc, error)
	CreateRoom(ctx context.Context, doc RoomDoc) error
	MergeRoom(ctx context.Context, roomID string, fields map[string]any) error
	AddRoomMembers(ctx context.Context, roomID string, uids []string) error
	RemoveRoomMember(ctx context.Context, roomID string, uid string) error
	CreateMessage(ctx context.Context, doc MessageDoc) (string, error)
	ListMessages(ctx context.Context, roomID string, limit int) ([]MessageDoc, error)
	ListMessagesUnordered(ctx context.Context, roomID string) ([]MessageDoc, error)
	MergeMessage(ctx context.Context, messageID string, fields map[string]any) error
	AddMessageHiddenFor(ctx context.Context, messageID string, uid string) error
}
