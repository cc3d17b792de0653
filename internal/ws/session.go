package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-mirror-service/internal/directory"
	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/observability"
	"chat-mirror-service/internal/repositories"
	"chat-mirror-service/internal/status"
)

// RoomSocketHandler accepts websocket connections for a room, tracks
// presence and feeds inbound frames into the send pipeline.
type RoomSocketHandler struct {
	hub      *Hub
	presence *Presence
	rooms    repositories.RoomRepository
	engine   *status.Engine
	pipeline *Pipeline
	dir      directory.Service
}

// NewRoomSocketHandler constructs a RoomSocketHandler.
func NewRoomSocketHandler(hub *Hub, presence *Presence, rooms repositories.RoomRepository, engine *status.Engine, pipeline *Pipeline, dir directory.Service) *RoomSocketHandler {
	return &RoomSocketHandler{hub: hub, presence: presence, rooms: rooms, engine: engine, pipeline: pipeline, dir: dir}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundFrame struct {
	Message string `json:"message"`
}

// Handle authenticates, resolves the room and upgrades the connection. An
// unknown room is refused before the upgrade so the client sees a plain
// HTTP error instead of a dropped socket.
func (h *RoomSocketHandler) Handle(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("chat-mirror-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	member, err := h.rooms.IsMember(c.Request.Context(), room.ID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for room"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		RoomKind:    room.Kind,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(room.ID, conn, info)
	if h.presence.Join(room.ID, userID) {
		h.hub.BroadcastOnlineCount(room.ID, h.presence.Count(room.ID))
	}

	observability.IncWSActive(room.Kind)
	observability.IncWSEvent(room.Kind, "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload(room, info, "ws_connect", 0, ""),
	}, observability.BuildHeaders(requestID, traceID))

	// Opening a socket proves the device received everything the peers
	// sent while it was away.
	ids, err := h.engine.UpgradeInbound(ctx, room.ID, userID, models.StatusDelivered)
	if err != nil {
		log.Printf("deliver inbound for room %d: %v", room.ID, err)
	}
	for _, id := range ids {
		h.hub.BroadcastStatusUpdate(room.ID, id)
	}

	// The read loop outlives the HTTP handshake, so it must not inherit the
	// request cancellation.
	go h.readLoop(context.WithoutCancel(ctx), room, conn, info)
}

func (h *RoomSocketHandler) readLoop(ctx context.Context, room models.Room, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.RemoveClient(room.ID, conn)
		if h.presence.Leave(room.ID, info.UserID) {
			h.hub.BroadcastOnlineCount(room.ID, h.presence.Count(room.ID))
		}
		observability.DecWSActive(room.Kind)
		observability.IncWSEvent(room.Kind, "ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   wsEventPayload(room, info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
		}, observability.BuildHeaders(info.RequestID, info.TraceID))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(room.Kind, "ws_error")
				_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
					EventType: "ws_events",
					EventName: "ws_error",
					Payload:   wsEventPayload(room, info, "ws_error", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
				}, observability.BuildHeaders(info.RequestID, info.TraceID))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil || strings.TrimSpace(frame.Message) == "" {
			continue
		}
		if _, err := h.pipeline.Send(ctx, room, info.UserID, frame.Message); err != nil {
			log.Printf("send message in room %d: %v", room.ID, err)
		}
	}
}

func (h *RoomSocketHandler) validateToken(ctx context.Context, header string) (int, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.dir.ValidateToken(ctx, parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}

func wsEventPayload(room models.Room, info ConnInfo, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        room.Kind,
			"resource_id": room.ID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}
