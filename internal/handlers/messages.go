package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/observability"
	"chat-mirror-service/internal/receipts"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/runs"
	"chat-mirror-service/internal/status"
	"chat-mirror-service/internal/telemetry"
	"chat-mirror-service/internal/work"
	"chat-mirror-service/internal/ws"
)

const defaultPageSize = 50

// MessageHandler serves room history and the HTTP send/delete endpoints.
type MessageHandler struct {
	rooms      repositories.RoomRepository
	messages   repositories.MessageRepository
	readStates repositories.ReadStateRepository
	engine     *status.Engine
	resolver   *receipts.Resolver
	dir        directory.Service
	bridge     SyncBridge
	pipeline   *ws.Pipeline
	hub        *ws.Hub
	pool       *work.Pool
	audit      *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(
	rooms repositories.RoomRepository,
	messages repositories.MessageRepository,
	readStates repositories.ReadStateRepository,
	engine *status.Engine,
	resolver *receipts.Resolver,
	dir directory.Service,
	bridge SyncBridge,
	pipeline *ws.Pipeline,
	hub *ws.Hub,
	pool *work.Pool,
	audit *telemetry.AuditEmitter,
) *MessageHandler {
	return &MessageHandler{
		rooms:      rooms,
		messages:   messages,
		readStates: readStates,
		engine:     engine,
		resolver:   resolver,
		dir:        dir,
		bridge:     bridge,
		pipeline:   pipeline,
		hub:        hub,
		pool:       pool,
		audit:      audit,
	}
}

type decoratedMessage struct {
	models.Message
	Decoration     models.Decoration `json:"decoration"`
	SenderUsername string            `json:"sender_username,omitempty"`
}

// GetRoomMessages runs the open-room sequence: pull anything new from the
// mirror, mark the room read, fast-forward inbound messages to read, then
// return the decorated history.
func (h *MessageHandler) GetRoomMessages(c *gin.Context) {
	room, ok := h.requireMember(c)
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	// Mirror outages degrade to local history, never to an error.
	imported, err := h.bridge.ImportMessages(ctx, room)
	if err != nil {
		log.Printf("import messages for room %d: %v", room.ID, err)
	}
	if imported > 0 {
		observability.AddMirrorImported(imported)
	}

	if err := h.readStates.MarkReadOnOpen(ctx, userID, room.ID); err != nil {
		log.Printf("mark read for room %d: %v", room.ID, err)
	}

	ids, err := h.engine.UpgradeInbound(ctx, room.ID, userID, models.StatusRead)
	if err != nil {
		log.Printf("read inbound for room %d: %v", room.ID, err)
	}
	for _, id := range ids {
		h.hub.BroadcastStatusUpdate(room.ID, id)
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	msgs, err := h.messages.ListRoomMessages(ctx, room.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	visible := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		hidden, err := h.readStates.IsMessageHidden(ctx, userID, m.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
			return
		}
		if !hidden {
			visible = append(visible, m)
		}
	}

	// The mirror read pointer advances to the newest inbound message the
	// caller just saw.
	if pointer := lastInboundMirrorID(visible, userID); pointer != "" {
		h.pool.Submit(func(jobCtx context.Context) error {
			return h.bridge.UpdateReadState(jobCtx, room, userID, pointer)
		}, nil)
	}

	ends := runs.EndOfRun(visible)
	read, marker := h.resolver.AnnotateList(ctx, room, userID, visible)

	names := h.senderNames(ctx, visible)
	resp := make([]decoratedMessage, 0, len(visible))
	for i, m := range visible {
		resp = append(resp, decoratedMessage{
			Message: m,
			Decoration: models.Decoration{
				EndOfRun:   ends[i],
				ShowFooter: ends[i],
				ShowAvatar: ends[i] && m.AuthorID != userID,
				ShowTicks:  ends[i] && m.AuthorID == userID && !m.Deleted,
				ReadByPeer: read[i],
				ReadMarker: i == marker,
			},
			SenderUsername: names[m.AuthorID],
		})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostMessage stores a message through the shared send pipeline.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	room, ok := h.requireMember(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.pipeline.Send(c.Request.Context(), room, userID, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// DeleteMessageForMe hides a message from the caller only.
func (h *MessageHandler) DeleteMessageForMe(c *gin.Context) {
	_, msg, ok := h.loadRoomMessage(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.readStates.HideMessage(c.Request.Context(), userID, msg.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		return
	}

	if msg.MirrorID.Valid {
		h.pool.Submit(func(ctx context.Context) error {
			return h.bridge.HideForUser(ctx, msg, userID)
		}, nil)
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessageForAll blanks a message for every member. Author only.
func (h *MessageHandler) DeleteMessageForAll(c *gin.Context) {
	room, msg, ok := h.loadRoomMessage(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if msg.AuthorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author can delete for all"})
		return
	}

	if err := h.messages.SoftDelete(c.Request.Context(), msg.ID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not delete message"})
		return
	}

	h.hub.BroadcastDeletion(room.ID, msg.ID)
	if msg.MirrorID.Valid {
		h.pool.Submit(func(ctx context.Context) error {
			return h.bridge.MarkDeleted(ctx, room, msg, userID)
		}, nil)
	}
	emitAudit(c, h.audit, "INFO", "Message deleted for all")
	c.Status(http.StatusNoContent)
}

func (h *MessageHandler) loadRoomMessage(c *gin.Context) (models.Room, models.Message, bool) {
	room, ok := h.requireMember(c)
	if !ok {
		return models.Room{}, models.Message{}, false
	}
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return models.Room{}, models.Message{}, false
	}
	msg, err := h.messages.Get(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return models.Room{}, models.Message{}, false
	}
	if msg.RoomID != room.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message does not belong to room"})
		return models.Room{}, models.Message{}, false
	}
	return room, msg, true
}

func (h *MessageHandler) requireMember(c *gin.Context) (models.Room, bool) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return models.Room{}, false
	}
	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return models.Room{}, false
	}
	userID := c.GetInt("userID")
	member, err := h.rooms.IsMember(c.Request.Context(), room.ID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return models.Room{}, false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return models.Room{}, false
	}
	return room, true
}

func (h *MessageHandler) senderNames(ctx context.Context, msgs []models.Message) map[int]string {
	ids := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.AuthorID]; !ok {
			seen[m.AuthorID] = struct{}{}
			ids = append(ids, m.AuthorID)
		}
	}
	if len(ids) == 0 {
		return map[int]string{}
	}
	names, err := h.dir.BulkUsers(ctx, ids)
	if err != nil {
		log.Printf("bulk user lookup: %v", err)
		return map[int]string{}
	}
	return names
}


func lastInboundMirrorID(msgs []models.Message, viewerID int) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].AuthorID != viewerID && msgs[i].MirrorID.Valid {
			return msgs[i].MirrorID.String
		}
	}
	return ""
}
