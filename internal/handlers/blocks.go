package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/telemetry"
	"chat-mirror-service/internal/work"
)

// BlockHandler serves the internal block endpoints called by the social
// service. Block state is recorded locally for send-path checks and
// projected into the mirror so the mobile client sees it too.
type BlockHandler struct {
	blocks repositories.BlockRepository
	dir    directory.Service
	bridge SyncBridge
	pool   *work.Pool
	audit  *telemetry.AuditEmitter
}

// NewBlockHandler constructs a BlockHandler.
func NewBlockHandler(blocks repositories.BlockRepository, dir directory.Service, bridge SyncBridge, pool *work.Pool, audit *telemetry.AuditEmitter) *BlockHandler {
	return &BlockHandler{blocks: blocks, dir: dir, bridge: bridge, pool: pool, audit: audit}
}

type blockRequest struct {
	BlockerID int `json:"blocker_id" binding:"required"`
	BlockedID int `json:"blocked_id" binding:"required"`
}

// CreateBlock records a block and flags it on the mirror pair document.
func (h *BlockHandler) CreateBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.blocks.CreateBlock(c.Request.Context(), req.BlockerID, req.BlockedID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create block"})
		return
	}

	h.submitFlagUpdate(req, h.bridge.SetBlockFlags)
	emitAudit(c, h.audit, "INFO", fmt.Sprintf("Block created %d->%d", req.BlockerID, req.BlockedID))
	c.Status(http.StatusNoContent)
}

// DeleteBlock removes a block and clears the mirror flags.
func (h *BlockHandler) DeleteBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.blocks.DeleteBlock(c.Request.Context(), req.BlockerID, req.BlockedID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete block"})
		return
	}

	h.submitFlagUpdate(req, h.bridge.ClearBlockFlags)
	emitAudit(c, h.audit, "INFO", fmt.Sprintf("Block removed %d->%d", req.BlockerID, req.BlockedID))
	c.Status(http.StatusNoContent)
}

// submitFlagUpdate resolves external identities and applies the flag change
// in the background. Users without a mirror identity have nothing to flag.
func (h *BlockHandler) submitFlagUpdate(req blockRequest, apply func(ctx context.Context, blockerUID, blockedUID string) error) {
	h.pool.Submit(func(ctx context.Context) error {
		blockerUID, err := h.dir.ExternalID(ctx, req.BlockerID)
		if err != nil {
			return err
		}
		blockedUID, err := h.dir.ExternalID(ctx, req.BlockedID)
		if err != nil {
			return err
		}
		if blockerUID == "" || blockedUID == "" {
			return nil
		}
		return apply(ctx, blockerUID, blockedUID)
	}, nil)
}

