package models

import (
	"database/sql"
	"time"
)

// Room kinds. A private room always has exactly two members.
const (
	RoomPrivate = "private"
	RoomGroup   = "group"
)

// Room is a chat context, private (2 members) or group (N members).
type Room struct {
	ID        int            `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Kind      string         `db:"kind" json:"kind"`
	AdminID   sql.NullInt64  `db:"admin_id" json:"admin_id,omitempty"`
	MirrorID  sql.NullString `db:"mirror_id" json:"mirror_id,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// IsPrivate reports whether the room is a two-member private chat.
func (r Room) IsPrivate() bool {
	return r.Kind == RoomPrivate
}

// RoomSummary is the sidebar view of a room for one user. IsRequest marks a
// room with inbound traffic the user has never opened.
type RoomSummary struct {
	RoomID        int        `json:"room_id"`
	Name          string     `json:"name"`
	Kind          string     `json:"kind"`
	PeerID        int        `json:"peer_id,omitempty"`
	PeerName      string     `json:"peer_name,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	IsRequest     bool       `json:"is_request"`
	Archived      bool       `json:"archived"`
	LatestInbound *time.Time `json:"latest_inbound,omitempty"`
}

// ReadState tracks per-user room view state. Created lazily on first view.
type ReadState struct {
	UserID     int          `db:"user_id" json:"user_id"`
	RoomID     int          `db:"room_id" json:"room_id"`
	LastReadAt sql.NullTime `db:"last_read_at" json:"last_read_at"`
	Hidden     bool         `db:"hidden" json:"hidden"`
	Archived   bool         `db:"archived" json:"archived"`
}
