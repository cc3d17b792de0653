package ws

import "time"

// ConnInfo carries identity and tracing context for one socket, captured at
// handshake time.
type ConnInfo struct {
	ConnID      string
	UserID      int
	RoomKind    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
