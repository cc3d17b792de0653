package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"chat-mirror-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error)
	CreateGroupRoom(ctx context.Context, adminID int, name string, memberIDs []int) (models.Room, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	Members(ctx context.Context, roomID int) ([]int, error)
	IsMember(ctx context.Context, roomID int, userID int) (bool, error)
	AddMember(ctx context.Context, roomID int, userID int) error
	RemoveMember(ctx context.Context, roomID int, userID int) error
	BindMirror(ctx context.Context, roomID int, mirrorID string) (bool, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error)
	DeleteRoom(ctx context.Context, roomID int, adminID int) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateOrGetPrivateRoom returns the private room shared by the two users,
// creating it on first contact. The room name is deterministic in the sorted
// pair so either side resolves to the same row.
func (r *RoomRepo) CreateOrGetPrivateRoom(ctx context.Context, userID int, peerID int) (models.Room, error) {
	if userID == peerID {
		return models.Room{}, errors.New("cannot create private room with self")
	}
	pair := []int{userID, peerID}
	sort.Ints(pair)
	name := fmt.Sprintf("priv-%d-%d", pair[0], pair[1])

	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, kind, admin_id, mirror_id, created_at FROM rooms WHERE name=$1`, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, kind) VALUES ($1, 'private') RETURNING id, name, kind, admin_id, mirror_id, created_at`, name).
		StructScan(&room); err != nil {
		return models.Room{}, err
	}
	for _, id := range pair {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
			return models.Room{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// CreateGroupRoom creates a group room and its members atomically. The admin
// is always a member.
func (r *RoomRepo) CreateGroupRoom(ctx context.Context, adminID int, name string, memberIDs []int) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, kind, admin_id) VALUES ($1, 'group', $2) RETURNING id, name, kind, admin_id, mirror_id, created_at`, name, adminID).
		StructScan(&room); err != nil {
		return models.Room{}, err
	}

	memberSet := map[int]struct{}{adminID: {}}
	for _, id := range memberIDs {
		memberSet[id] = struct{}{}
	}
	ids := make([]int, 0, len(memberSet))
	for id := range memberSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, kind, admin_id, mirror_id, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// Members returns the membership set of a room.
func (r *RoomRepo) Members(ctx context.Context, roomID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_members WHERE room_id=$1 ORDER BY user_id`, roomID)
	return ids, err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// AddMember adds a user to a room; a no-op if already present.
func (r *RoomRepo) AddMember(ctx context.Context, roomID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roomID, userID)
	return err
}

// RemoveMember removes a user from a room.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// BindMirror records the mirror document id for a room, first writer wins.
// Returns false when the room was already bound.
func (r *RoomRepo) BindMirror(ctx context.Context, roomID int, mirrorID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE rooms SET mirror_id=$2 WHERE id=$1 AND mirror_id IS NULL`, roomID, mirrorID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListRoomsForUser returns every room the user belongs to.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT r.id, r.name, r.kind, r.admin_id, r.mirror_id, r.created_at
        FROM rooms r INNER JOIN room_members rm ON rm.room_id = r.id
        WHERE rm.user_id=$1 ORDER BY r.created_at DESC`, userID)
	return rooms, err
}

// DeleteRoom cascades a room away; only the admin of a group may do it.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID int, adminID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1 AND kind='group' AND admin_id=$2`, roomID, adminID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}
