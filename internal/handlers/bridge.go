package handlers

import (
	"context"

	"chat-mirror-service/internal/models"
)

// SyncBridge is the slice of the mirror sync bridge the HTTP layer uses.
// All calls run in the background pool; handler responses never wait on the
// mirror store.
type SyncBridge interface {
	Bind(ctx context.Context, room models.Room) (string, error)
	ImportMessages(ctx context.Context, room models.Room) (int, error)
	UpdateReadState(ctx context.Context, room models.Room, readerID int, lastReadMirrorID string) error
	AddMembers(ctx context.Context, room models.Room, userIDs []int) error
	RemoveMember(ctx context.Context, room models.Room, userID int) error
	MarkDeleted(ctx context.Context, room models.Room, msg models.Message, deletedBy int) error
	HideForUser(ctx context.Context, msg models.Message, userID int) error
	SetBlockFlags(ctx context.Context, blockerUID, blockedUID string) error
	ClearBlockFlags(ctx context.Context, blockerUID, blockedUID string) error
}
