package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-mirror-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	Create(ctx context.Context, roomID int, authorID int, body string) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	GetByMirrorID(ctx context.Context, mirrorID string) (models.Message, error)
	ExistsByMirrorID(ctx context.Context, mirrorID string) (bool, error)
	ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.Message, error)
	PrevAuthoredBefore(ctx context.Context, roomID int, authorID int, beforeID int) (models.Message, error)
	UpgradeStatus(ctx context.Context, messageID int, target int) (bool, error)
	UpgradeInbound(ctx context.Context, roomID int, viewerID int, target int) ([]int, error)
	BindMirror(ctx context.Context, messageID int, mirrorID string, senderUID string) (bool, error)
	Import(ctx context.Context, msg models.Message) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, authorID int) error
	CountInboundAfter(ctx context.Context, roomID int, viewerID int, after sql.NullTime) (int, error)
	LatestInboundAt(ctx context.Context, roomID int, viewerID int) (*time.Time, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, author_id, body, deleted, edited, edited_at, status, mirror_id, sender_uid, created_at`

// Create stores a new message with status sent.
func (r *MessageRepo) Create(ctx context.Context, roomID int, authorID int, body string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, author_id, body) VALUES ($1, $2, $3) RETURNING `+messageColumns, roomID, authorID, body).
		StructScan(&msg)
	return msg, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetByMirrorID retrieves the local message bound to a mirror id.
func (r *MessageRepo) GetByMirrorID(ctx context.Context, mirrorID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE mirror_id=$1`, mirrorID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ExistsByMirrorID reports whether a mirror id already has a local row.
func (r *MessageRepo) ExistsByMirrorID(ctx context.Context, mirrorID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages WHERE mirror_id=$1)`, mirrorID)
	return exists, err
}

// ListRoomMessages returns the latest limit messages in ascending time order.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM (
            SELECT `+messageColumns+` FROM messages WHERE room_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
        ) latest ORDER BY created_at ASC, id ASC`, roomID, limit)
	return msgs, err
}

// PrevAuthoredBefore finds the author's most recent message in the room other
// than the given one. Used to decide run continuation on send.
func (r *MessageRepo) PrevAuthoredBefore(ctx context.Context, roomID int, authorID int, beforeID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages
        WHERE room_id=$1 AND author_id=$2 AND id<>$3
        ORDER BY created_at DESC, id DESC LIMIT 1`, roomID, authorID, beforeID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpgradeStatus raises the delivery status to target. The write applies only
// when target is above the current value, so concurrent upgrades and the
// background mirror callback can never lower it.
func (r *MessageRepo) UpgradeStatus(ctx context.Context, messageID int, target int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$2 WHERE id=$1 AND status<$2`, messageID, target)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpgradeInbound raises every message in the room not authored by the viewer
// to target, returning the ids that actually changed.
func (r *MessageRepo) UpgradeInbound(ctx context.Context, roomID int, viewerID int, target int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `UPDATE messages SET status=$3
        WHERE room_id=$1 AND author_id<>$2 AND status<$3 RETURNING id`, roomID, viewerID, target)
	return ids, err
}

// BindMirror records the mirror id for a message exactly once. Returns false
// when the message was already bound.
func (r *MessageRepo) BindMirror(ctx context.Context, messageID int, mirrorID string, senderUID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET mirror_id=$2, sender_uid=$3 WHERE id=$1 AND mirror_id IS NULL`, messageID, mirrorID, senderUID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Import materializes a remote message locally with its original timestamp
// and mirror binding.
func (r *MessageRepo) Import(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, author_id, body, deleted, status, mirror_id, sender_uid, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+messageColumns,
		msg.RoomID, msg.AuthorID, msg.Body, msg.Deleted, msg.Status, msg.MirrorID, msg.SenderUID, msg.CreatedAt).
		StructScan(&out)
	return out, err
}

// SoftDelete marks a message deleted for everyone; only the author may do it.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, authorID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET deleted=TRUE, body='' WHERE id=$1 AND author_id=$2`, messageID, authorID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// CountInboundAfter counts inbound messages newer than the given read mark.
// A null mark counts all inbound messages.
func (r *MessageRepo) CountInboundAfter(ctx context.Context, roomID int, viewerID int, after sql.NullTime) (int, error) {
	var count int
	if after.Valid {
		err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE room_id=$1 AND author_id<>$2 AND created_at>$3`, roomID, viewerID, after.Time)
		return count, err
	}
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE room_id=$1 AND author_id<>$2`, roomID, viewerID)
	return count, err
}

// LatestInboundAt returns the timestamp of the newest inbound message, or nil.
func (r *MessageRepo) LatestInboundAt(ctx context.Context, roomID int, viewerID int) (*time.Time, error) {
	var ts time.Time
	err := r.db.GetContext(ctx, &ts, `SELECT created_at FROM messages WHERE room_id=$1 AND author_id<>$2 ORDER BY created_at DESC LIMIT 1`, roomID, viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
