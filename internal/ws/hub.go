package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-mirror-service/internal/models"
	"chat-mirror-service/internal/observability"
)

// Hub maintains active websocket connections grouped by room.
type Hub struct {
	rooms    map[int]map[*websocket.Conn]bool
	connInfo map[int]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[int]map[*websocket.Conn]bool),
		connInfo: make(map[int]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a websocket connection to a room.
func (h *Hub) AddClient(roomID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[roomID][conn] = true
	if _, ok := h.connInfo[roomID]; !ok {
		h.connInfo[roomID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[roomID][conn] = info
}

// RemoveClient removes a room websocket connection.
func (h *Hub) RemoveClient(roomID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if infos, ok := h.connInfo[roomID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, roomID)
		}
	}
}

// Broadcast writes event to every client joined to the room. Per-connection
// delivery is FIFO from a single caller; ordering across callers is not
// guaranteed.
func (h *Hub) Broadcast(roomID int, event any) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.publishWSError(roomID, conn, err)
			h.RemoveClient(roomID, conn)
		}
	}
}

// BroadcastEach renders the event once per connected viewer and writes the
// viewer's own payload to their socket. render may return false to skip a
// viewer entirely.
func (h *Hub) BroadcastEach(roomID int, render func(info ConnInfo) (any, bool)) {
	type target struct {
		conn *websocket.Conn
		info ConnInfo
	}
	h.mu.RLock()
	targets := make([]target, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		targets = append(targets, target{conn: conn, info: h.connInfo[roomID][conn]})
	}
	h.mu.RUnlock()

	for _, tg := range targets {
		event, ok := render(tg.info)
		if !ok {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("websocket marshal error: %v", err)
			continue
		}
		if err := tg.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			tg.conn.Close()
			h.publishWSError(roomID, tg.conn, err)
			h.RemoveClient(roomID, tg.conn)
		}
	}
}

// BroadcastNewMessage publishes a freshly persisted message. A new message
// always closes the current run, so the frame is decorated per viewer: the
// author sees ticks, everyone else sees the avatar.
func (h *Hub) BroadcastNewMessage(roomID int, msg models.Message) {
	h.BroadcastEach(roomID, func(info ConnInfo) (any, bool) {
		return models.RenderedMessage{
			Type:    models.EventNewMessage,
			Message: &msg,
			Decoration: models.Decoration{
				EndOfRun:   true,
				ShowFooter: true,
				ShowAvatar: msg.AuthorID != info.UserID,
				ShowTicks:  msg.AuthorID == info.UserID && !msg.Deleted,
			},
		}, true
	})
}

// BroadcastFooterUpdate tells clients to re-render a message footer when a
// later message extends its run. The event carries only the message id; each
// session re-renders the footer for its own viewer.
func (h *Hub) BroadcastFooterUpdate(roomID int, messageID int) {
	h.Broadcast(roomID, models.RoomEvent{Type: models.EventFooterUpdate, MessageID: messageID})
}

// BroadcastStatusUpdate announces a delivery status transition.
func (h *Hub) BroadcastStatusUpdate(roomID int, messageID int) {
	h.Broadcast(roomID, models.RoomEvent{Type: models.EventStatusUpdate, MessageID: messageID})
}

// BroadcastOnlineCount announces the number of distinct users online.
func (h *Hub) BroadcastOnlineCount(roomID int, count int) {
	h.Broadcast(roomID, models.OnlineCountPayload{Type: models.EventOnlineCount, OnlineCount: count})
}

// BroadcastDeletion notifies clients of a delete-for-all event.
func (h *Hub) BroadcastDeletion(roomID int, messageID int) {
	h.Broadcast(roomID, models.RoomEvent{Type: models.EventMessageDelete, MessageID: messageID})
}

func (h *Hub) publishWSError(roomID int, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(roomID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        info.RoomKind,
			"resource_id": roomID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(info.RoomKind, "ws_error")
}

func (h *Hub) getConnInfo(roomID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[roomID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
