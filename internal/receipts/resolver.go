// Package receipts computes per-message "read by peer" state from the
// eventually-consistent remote mirror. All lookups are best-effort: any
// failure degrades to "unread" rather than surfacing an error at render
// time.
package receipts

import (
	"context"
	"time"

	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/repositories"
)

// RemoteState is the slice of the sync bridge the resolver consumes.
type RemoteState interface {
	PeerLastReadMessageID(ctx context.Context, room models.Room, peerID int) (string, error)
	GroupLastRead(ctx context.Context, room models.Room) (*time.Time, error)
}

// Resolver derives read receipts for private and group rooms.
type Resolver struct {
	remote   RemoteState
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
}

// NewResolver constructs a Resolver.
func NewResolver(remote RemoteState, rooms repositories.RoomRepository, messages repositories.MessageRepository) *Resolver {
	return &Resolver{remote: remote, rooms: rooms, messages: messages}
}

func (r *Resolver) peerOf(ctx context.Context, room models.Room, viewerID int) (int, bool) {
	if !room.IsPrivate() {
		return 0, false
	}
	members, err := r.rooms.Members(ctx, room.ID)
	if err != nil {
		return 0, false
	}
	for _, id := range members {
		if id != viewerID {
			return id, true
		}
	}
	return 0, false
}

// ReadByPeer reports whether the peer has read the viewer's message. Only
// the viewer's own messages ever show read state.
func (r *Resolver) ReadByPeer(ctx context.Context, room models.Room, viewerID int, msg models.Message) bool {
	if msg.AuthorID != viewerID {
		return false
	}
	if room.IsPrivate() {
		return r.privateRead(ctx, room, viewerID, msg)
	}
	return r.groupRead(ctx, room, msg)
}

func (r *Resolver) privateRead(ctx context.Context, room models.Room, viewerID int, msg models.Message) bool {
	if !msg.MirrorID.Valid {
		return false
	}
	peerID, ok := r.peerOf(ctx, room, viewerID)
	if !ok {
		return false
	}
	pointer, err := r.remote.PeerLastReadMessageID(ctx, room, peerID)
	if err != nil || pointer == "" {
		return false
	}
	if pointer == msg.MirrorID.String {
		return true
	}

	// The pointer may reference the peer's own message; resolve it locally
	// and compare timestamps.
	pointed, err := r.messages.GetByMirrorID(ctx, pointer)
	if err != nil {
		return false
	}
	return !msg.CreatedAt.After(pointed.CreatedAt)
}

func (r *Resolver) groupRead(ctx context.Context, room models.Room, msg models.Message) bool {
	if !msg.MirrorID.Valid {
		return false
	}
	lastRead, err := r.remote.GroupLastRead(ctx, room)
	if err != nil || lastRead == nil {
		return false
	}
	return !msg.CreatedAt.After(*lastRead)
}

// AnnotateList computes read flags for an ascending-time message list in one
// pass. The read horizon is the later of the index matching the peer's
// pointer and the index of the last message authored by someone else
// (implicit read evidence); every eligible own message up to the horizon is
// read, and only the highest such index carries the visual read marker.
func (r *Resolver) AnnotateList(ctx context.Context, room models.Room, viewerID int, msgs []models.Message) ([]bool, int) {
	read := make([]bool, len(msgs))
	marker := -1
	if len(msgs) == 0 {
		return read, marker
	}

	if room.IsPrivate() {
		horizon := -1
		if peerID, ok := r.peerOf(ctx, room, viewerID); ok {
			if pointer, err := r.remote.PeerLastReadMessageID(ctx, room, peerID); err == nil && pointer != "" {
				for i, m := range msgs {
					if m.MirrorID.Valid && m.MirrorID.String == pointer {
						horizon = i
						break
					}
				}
			}
		}
		for i, m := range msgs {
			if m.AuthorID != viewerID && i > horizon {
				horizon = i
			}
		}
		for i := 0; i <= horizon && i < len(msgs); i++ {
			if msgs[i].AuthorID == viewerID && msgs[i].MirrorID.Valid {
				read[i] = true
				marker = i
			}
		}
		return read, marker
	}

	lastRead, err := r.remote.GroupLastRead(ctx, room)
	if err != nil || lastRead == nil {
		return read, marker
	}
	for i, m := range msgs {
		if m.AuthorID == viewerID && m.MirrorID.Valid && !m.CreatedAt.After(*lastRead) {
			read[i] = true
			marker = i
		}
	}
	return read, marker
}
