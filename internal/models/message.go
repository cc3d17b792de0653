package models

import (
	"database/sql"
	"time"
)

// Delivery status lattice, monotonic per message.
const (
	StatusSent      = 0
	StatusDelivered = 1
	StatusRead      = 2
)

// MaxBodyLength is the hard cap on a message body; longer bodies are truncated.
const MaxBodyLength = 25000

// Message is a chat message in the authoritative store.
type Message struct {
	ID        int            `db:"id" json:"id"`
	RoomID    int            `db:"room_id" json:"room_id"`
	AuthorID  int            `db:"author_id" json:"author_id"`
	Body      string         `db:"body" json:"body"`
	Deleted   bool           `db:"deleted" json:"deleted"`
	Edited    bool           `db:"edited" json:"edited"`
	EditedAt  sql.NullTime   `db:"edited_at" json:"edited_at,omitempty"`
	Status    int            `db:"status" json:"status"`
	MirrorID  sql.NullString `db:"mirror_id" json:"mirror_id,omitempty"`
	SenderUID sql.NullString `db:"sender_uid" json:"sender_uid,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Decoration carries per-render flags computed alongside a message. It is
// produced at render time and never written back to the stored entity.
type Decoration struct {
	EndOfRun   bool `json:"end_of_run"`
	ShowFooter bool `json:"show_footer"`
	ShowAvatar bool `json:"show_avatar"`
	ShowTicks  bool `json:"show_ticks"`
	ReadByPeer bool `json:"read_by_peer"`
	ReadMarker bool `json:"read_marker"`
}
