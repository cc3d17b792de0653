package models

// Room broadcast event kinds. One pub/sub group per room; FIFO per
// publisher, not globally ordered.
const (
	EventNewMessage    = "new_message"
	EventFooterUpdate  = "message_footer_update"
	EventStatusUpdate  = "message_status_update"
	EventOnlineCount   = "online_count"
	EventMessageDelete = "message_delete"
)

// RoomEvent is published to every session joined to a room.
type RoomEvent struct {
	Type        string `json:"type"`
	MessageID   int    `json:"message_id,omitempty"`
	OnlineCount int    `json:"online_count,omitempty"`
}

// RenderedMessage is the transport payload written to one viewer's socket.
// New-message broadcasts recompute Decoration per connected viewer; footer
// and status events carry only the message id and the client re-renders.
type RenderedMessage struct {
	Type       string     `json:"type"`
	Message    *Message   `json:"message,omitempty"`
	Decoration Decoration `json:"decoration"`
	MessageID  int        `json:"message_id,omitempty"`
}

// OnlineCountPayload is the transport payload for presence updates.
type OnlineCountPayload struct {
	Type        string `json:"type"`
	OnlineCount int    `json:"online_count"`
}
