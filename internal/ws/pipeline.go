package ws

import (
	"context"
	"log"

	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/observability"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/runs"
	"chat-mirror-service/internal/status"
	syncpkg "chat-mirror-service/internal/sync"
	"chat-mirror-service/internal/work"
)

// MirrorPusher is the slice of the sync bridge the send path needs.
type MirrorPusher interface {
	PushMessage(ctx context.Context, room models.Room, msg models.Message) (string, error)
	BindMessage(ctx context.Context, msg models.Message, externalID string) (bool, error)
}

// Pipeline is the single send path shared by the websocket receive loop and
// the HTTP message endpoint. The relational store commits first; the mirror
// push runs in the background pool and announces itself with one follow-up
// status event.
type Pipeline struct {
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	readStates repositories.ReadStateRepository
	blocks     repositories.BlockRepository
	engine     *status.Engine
	mirror     MirrorPusher
	hub        *Hub
	presence   *Presence
	pool       *work.Pool
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	rooms repositories.RoomRepository,
	messages repositories.MessageRepository,
	readStates repositories.ReadStateRepository,
	blocks repositories.BlockRepository,
	engine *status.Engine,
	mirror MirrorPusher,
	hub *Hub,
	presence *Presence,
	pool *work.Pool,
) *Pipeline {
	return &Pipeline{
		rooms:      rooms,
		messages:   messages,
		readStates: readStates,
		blocks:     blocks,
		engine:     engine,
		mirror:     mirror,
		hub:        hub,
		presence:   presence,
		pool:       pool,
	}
}

// Send runs the full publish sequence for one outbound message.
func (p *Pipeline) Send(ctx context.Context, room models.Room, authorID int, body string) (*models.Message, error) {
	body = truncateRunes(body, models.MaxBodyLength)

	members, err := p.rooms.Members(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	blocked := false
	if room.IsPrivate() {
		if peerID, ok := privatePeer(members, authorID); ok {
			blocked, err = p.blocks.BlockedEitherWay(ctx, authorID, peerID)
			if err != nil {
				return nil, err
			}
		}
	}

	msg, err := p.messages.Create(ctx, room.ID, authorID, body)
	if err != nil {
		return nil, err
	}

	// A block between the pair suppresses every side effect past the local
	// write: no fan-out, no mirror push, no status movement. The sender sees
	// a normal send and learns nothing about the block.
	if blocked {
		return &msg, nil
	}

	// Sending into a private room surfaces it again for both sides.
	if room.IsPrivate() {
		for _, member := range members {
			if err := p.readStates.UnhideRoom(ctx, member, room.ID); err != nil {
				log.Printf("unhide room %d for user %d: %v", room.ID, member, err)
			}
		}

		// Replying is read evidence: everything the peer sent before this
		// message fast-forwards to read.
		ids, err := p.engine.UpgradeInbound(ctx, room.ID, authorID, models.StatusRead)
		if err != nil {
			log.Printf("fast-forward inbound for room %d: %v", room.ID, err)
		}
		for _, id := range ids {
			p.hub.BroadcastStatusUpdate(room.ID, id)
		}
	}

	// If this message extends the author's previous run, that message no
	// longer ends it and its footer must be re-rendered.
	prev, err := p.messages.PrevAuthoredBefore(ctx, room.ID, authorID, msg.ID)
	if err == nil && runs.Continues(prev, msg.CreatedAt) {
		p.hub.BroadcastFooterUpdate(room.ID, prev.ID)
	}

	p.hub.BroadcastNewMessage(room.ID, msg)

	if p.presence.AnyOtherOnline(room.ID, authorID) {
		upgraded, err := p.engine.Upgrade(ctx, msg.ID, models.StatusDelivered)
		if err != nil {
			log.Printf("deliver message %d: %v", msg.ID, err)
		}
		if upgraded {
			msg.Status = models.StatusDelivered
			p.hub.BroadcastStatusUpdate(room.ID, msg.ID)
		}
	}

	p.pool.Submit(func(jobCtx context.Context) error {
		externalID, err := p.mirror.PushMessage(jobCtx, room, msg)
		if err != nil {
			return err
		}
		if externalID == "" {
			return nil
		}
		_, err = p.mirror.BindMessage(jobCtx, msg, externalID)
		return err
	}, func(err error) {
		if err != nil {
			outcome := "terminal"
			if syncpkg.IsRetryable(err) {
				outcome = "retryable"
			}
			observability.IncMirrorPush(outcome)
			return
		}
		observability.IncMirrorPush("ok")
		p.hub.BroadcastStatusUpdate(room.ID, msg.ID)
	})

	return &msg, nil
}

func privatePeer(members []int, authorID int) (int, bool) {
	for _, id := range members {
		if id != authorID {
			return id, true
		}
	}
	return 0, false
}
