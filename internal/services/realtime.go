package services

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/models"
)

// outboundQueueSize bounds the per-connection queue that decouples fan-out
// from network backpressure. A full queue drops the frame: real-time
// delivery is best-effort, the store stays authoritative.
const outboundQueueSize = 256

// RealtimeConn is the minimal surface of a WebSocket connection the hub
// writes to. *websocket.Conn satisfies it; tests substitute a fake.
type RealtimeConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Client is one authenticated WebSocket session.
type Client struct {
	ID       string
	UserID   string
	Username string
	Conn     RealtimeConn
	outbound chan models.WebSocketMessage
	done     chan struct{}
	once     sync.Once
}

// Send enqueues a frame for the client's writer. Frames are dropped when
// the queue is full or the client is shutting down.
func (c *Client) Send(msg models.WebSocketMessage) {
	select {
	case <-c.done:
	case c.outbound <- msg:
	default:
		log.Warn().Str("client_id", c.ID).Msg("outbound queue full, dropping frame")
	}
}

// writePump drains the outbound queue onto the socket until Close.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbound:
			if err := c.Conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("write failed, closing client")
				c.Close()
				return
			}
		}
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// RealtimeHub is the per-node registry of authenticated WebSocket sessions.
// One lock guards both tables; it is held only around registry mutations.
type RealtimeHub struct {
	mu          sync.Mutex
	connections map[string]*Client // client_id -> client
	userConns   map[string]string  // user_id -> client_id
}

var hub = &RealtimeHub{
	connections: make(map[string]*Client),
	userConns:   make(map[string]string),
}

// Hub returns the process-wide hub.
func Hub() *RealtimeHub { return hub }

// Register adds an authenticated client and starts its writer. A user holds
// at most one connection: a prior connection for the same user is displaced.
func (h *RealtimeHub) Register(clientID, userID, username string, conn RealtimeConn) *Client {
	c := &Client{
		ID:       clientID,
		UserID:   userID,
		Username: username,
		Conn:     conn,
		outbound: make(chan models.WebSocketMessage, outboundQueueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	var displaced *Client
	if oldID, ok := h.userConns[userID]; ok {
		displaced = h.connections[oldID]
		delete(h.connections, oldID)
	}
	h.connections[clientID] = c
	h.userConns[userID] = clientID
	h.mu.Unlock()

	if displaced != nil {
		displaced.Close()
	}

	go c.writePump()
	return c
}

// Unregister removes the client from both tables and closes it. A newer
// connection that displaced this one is left alone.
func (h *RealtimeHub) Unregister(c *Client) {
	h.mu.Lock()
	if cur, ok := h.connections[c.ID]; ok && cur == c {
		delete(h.connections, c.ID)
		if h.userConns[c.UserID] == c.ID {
			delete(h.userConns, c.UserID)
		}
	}
	h.mu.Unlock()
	c.Close()
}

// SendToUser enqueues a frame for the user's connection on this node, if any.
func (h *RealtimeHub) SendToUser(userID string, msg models.WebSocketMessage) {
	h.mu.Lock()
	var c *Client
	if clientID, ok := h.userConns[userID]; ok {
		c = h.connections[clientID]
	}
	h.mu.Unlock()
	if c != nil {
		c.Send(msg)
	}
}

// SendToGroup fans a frame out to the connected members of a group,
// excluding the originating sender. Membership is resolved against the
// store at fan-out time, so joins and leaves apply immediately.
func (h *RealtimeHub) SendToGroup(groupID string, msg models.WebSocketMessage, excludeSender string) {
	members, err := GroupMembers(groupID)
	if err != nil {
		log.Error().Err(err).Str("group_id", groupID).Msg("group fan-out membership lookup failed")
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(members))
	for _, userID := range members {
		clientID, ok := h.userConns[userID]
		if !ok {
			continue
		}
		c := h.connections[clientID]
		if c == nil || c.Username == excludeSender {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.Send(msg)
	}
}

// Broadcast enqueues a frame for every connection on this node, excluding
// the originating sender.
func (h *RealtimeHub) Broadcast(msg models.WebSocketMessage, excludeSender string) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.connections))
	for _, c := range h.connections {
		if c.Username == excludeSender {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.Send(msg)
	}
}

// ConnectedUsers reports the user ids with a live connection on this node.
func (h *RealtimeHub) ConnectedUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.userConns))
	for userID := range h.userConns {
		out = append(out, userID)
	}
	return out
}
