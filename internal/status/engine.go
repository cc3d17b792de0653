package status

import (
	"context"
	"fmt"

	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/repositories"
)

// Engine applies monotonic delivery-status upgrades over the lattice
// sent < delivered < read. A write that would lower a status is a no-op,
// which makes concurrent upgrades from different sessions and the background
// mirror callback race-safe.
type Engine struct {
	messages repositories.MessageRepository
}

// NewEngine constructs an Engine.
func NewEngine(messages repositories.MessageRepository) *Engine {
	return &Engine{messages: messages}
}

// Upgrade raises one message to target. Returns false when the message is
// already at or above target (expected under races, not an error).
func (e *Engine) Upgrade(ctx context.Context, messageID int, target int) (bool, error) {
	if target < models.StatusSent || target > models.StatusRead {
		return false, fmt.Errorf("invalid status target %d", target)
	}
	return e.messages.UpgradeStatus(ctx, messageID, target)
}

// UpgradeInbound raises every message in the room not authored by the viewer
// to target, returning the ids that actually moved.
func (e *Engine) UpgradeInbound(ctx context.Context, roomID int, viewerID int, target int) ([]int, error) {
	if target < models.StatusSent || target > models.StatusRead {
		return nil, fmt.Errorf("invalid status target %d", target)
	}
	return e.messages.UpgradeInbound(ctx, roomID, viewerID, target)
}
