package models

// User is the public identity row. Authentication material lives in the
// separate auth table and never leaves the services layer.
type User struct {
	ID       string
	Username string
	IsOnline bool
}

// FriendRequest tracks the pending -> accepted/rejected lifecycle. An
// accepted row doubles as the symmetric friendship fact: it is read from
// either direction.
type FriendRequest struct {
	ID         int64
	FromUserID string
	ToUserID   string
	PeerName   string // username of the other party, for display
	Message    string
	Status     string
	CreatedAt  int64
}

// Friend-request and invite statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Session event types appended to the session_events log.
const (
	SessionEventLogin   = "login"
	SessionEventLogout  = "logout"
	SessionEventExpired = "expired"
)
