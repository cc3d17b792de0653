package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-mirror-service/internal/models"
)

// ReadStateRepository tracks per-user room view state and per-user hidden
// messages.
type ReadStateRepository interface {
	MarkReadOnOpen(ctx context.Context, userID int, roomID int) error
	HideRoom(ctx context.Context, userID int, roomID int) error
	UnhideRoom(ctx context.Context, userID int, roomID int) error
	SetArchived(ctx context.Context, userID int, roomID int, archived bool) error
	GetStates(ctx context.Context, userID int, roomIDs []int) (map[int]models.ReadState, error)
	HideMessage(ctx context.Context, userID int, messageID int) error
	IsMessageHidden(ctx context.Context, userID int, messageID int) (bool, error)
}

// ReadStateRepo is a sqlx implementation of ReadStateRepository.
type ReadStateRepo struct {
	db *sqlx.DB
}

// NewReadStateRepo constructs a ReadStateRepo.
func NewReadStateRepo(db *sqlx.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

// MarkReadOnOpen advances the read timestamp and clears the hidden flag.
// Opening a room unhides it; archived is left alone.
func (r *ReadStateRepo) MarkReadOnOpen(ctx context.Context, userID int, roomID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO read_states (user_id, room_id, last_read_at, hidden)
        VALUES ($1, $2, NOW(), FALSE)
        ON CONFLICT (user_id, room_id) DO UPDATE SET last_read_at = NOW(), hidden = FALSE`, userID, roomID)
	return err
}

// HideRoom marks a room hidden for the user.
func (r *ReadStateRepo) HideRoom(ctx context.Context, userID int, roomID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO read_states (user_id, room_id, hidden) VALUES ($1, $2, TRUE)
        ON CONFLICT (user_id, room_id) DO UPDATE SET hidden = TRUE`, userID, roomID)
	return err
}

// UnhideRoom clears only the hidden flag; archived stays as it is.
func (r *ReadStateRepo) UnhideRoom(ctx context.Context, userID int, roomID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO read_states (user_id, room_id, hidden) VALUES ($1, $2, FALSE)
        ON CONFLICT (user_id, room_id) DO UPDATE SET hidden = FALSE`, userID, roomID)
	return err
}

// SetArchived toggles the archived flag for the user's view of the room.
func (r *ReadStateRepo) SetArchived(ctx context.Context, userID int, roomID int, archived bool) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO read_states (user_id, room_id, archived) VALUES ($1, $2, $3)
        ON CONFLICT (user_id, room_id) DO UPDATE SET archived = EXCLUDED.archived`, userID, roomID, archived)
	return err
}

// GetStates returns the user's read states for the given rooms, keyed by room.
func (r *ReadStateRepo) GetStates(ctx context.Context, userID int, roomIDs []int) (map[int]models.ReadState, error) {
	out := make(map[int]models.ReadState, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT user_id, room_id, last_read_at, hidden, archived FROM read_states WHERE user_id=? AND room_id IN (?)`, userID, roomIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var states []models.ReadState
	if err := r.db.SelectContext(ctx, &states, query, args...); err != nil {
		return nil, err
	}
	for _, st := range states {
		out[st.RoomID] = st
	}
	return out, nil
}

// HideMessage records a per-user "delete for me"; idempotent.
func (r *ReadStateRepo) HideMessage(ctx context.Context, userID int, messageID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO hidden_messages (user_id, message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, messageID)
	return err
}

// IsMessageHidden reports whether the user hid the message.
func (r *ReadStateRepo) IsMessageHidden(ctx context.Context, userID int, messageID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM hidden_messages WHERE user_id=$1 AND message_id=$2)`, userID, messageID)
	return exists, err
}
