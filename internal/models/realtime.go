package models

// WebSocketMessage is the data frame exchanged on the real-time plane,
// both over WebSocket connections and across the Redis bridge.
type WebSocketMessage struct {
	ID          string `json:"id"`
	MessageType string `json:"message_type"`
	Sender      string `json:"sender"`
	Target      string `json:"target"` // user_id or group_id
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"`
}

// Real-time frame types.
const (
	TypePrivateMessage = "PrivateMessage"
	TypeGroupMessage   = "GroupMessage"
	TypeUserJoined     = "UserJoined"
	TypeUserLeft       = "UserLeft"
	TypeNotification   = "Notification"
	TypeSystem         = "System"
)

// AuthMessage is the single frame a WebSocket client must send before
// anything else.
type AuthMessage struct {
	MessageType  string `json:"message_type"` // "auth"
	SessionToken string `json:"session_token"`
}

// AuthResponse acknowledges or rejects a WebSocket authentication attempt.
type AuthResponse struct {
	MessageType string  `json:"message_type"` // "auth_response"
	Success     bool    `json:"success"`
	UserID      *string `json:"user_id"`
	Error       *string `json:"error"`
}
