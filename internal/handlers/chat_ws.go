// Package handlers holds the HTTP-facing side of the real-time plane.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/models"
	"github.com/ferrochat/ferrochat/internal/services"
)

// authTimeout bounds the AwaitingAuth state: the client gets 30 seconds to
// send its single auth frame before the socket is closed.
const authTimeout = 30 * time.Second

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS middleware on the router.
		return true
	},
}

// ChatWebSocket upgrades the connection and drives it through the session
// state machine: AwaitingAuth -> Authenticated -> Terminated. The first and
// only frame accepted before authentication is
// {"message_type":"auth","session_token":"..."}.
func ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	userID, ok := awaitAuth(conn)
	if !ok {
		return
	}
	username := services.GetUsernameByID(userID)

	client := services.Hub().Register(uuid.New().String(), userID, username, conn)
	defer services.Hub().Unregister(client)

	log.Debug().Str("username", username).Msg("websocket authenticated")

	services.PublishSystemEvent(models.WebSocketMessage{
		ID:          uuid.New().String(),
		MessageType: models.TypeUserJoined,
		Sender:      username,
		Timestamp:   time.Now().Unix(),
	})
	defer services.PublishSystemEvent(models.WebSocketMessage{
		ID:          uuid.New().String(),
		MessageType: models.TypeUserLeft,
		Sender:      username,
		Timestamp:   time.Now().Unix(),
	})

	readPump(conn, username)
}

// awaitAuth runs the AwaitingAuth state. Timeout, a non-text frame, bad
// JSON, a wrong message_type or an invalid session all fail the handshake:
// the failure response is written, then the caller closes.
func awaitAuth(conn *websocket.Conn) (string, bool) {
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		// Covers the 30 s timeout; the write is best-effort since the
		// peer may already be gone.
		return failAuth(conn, "authentication timed out")
	}
	if msgType != websocket.TextMessage {
		return failAuth(conn, "expected a text auth frame")
	}

	var auth models.AuthMessage
	if err := json.Unmarshal(data, &auth); err != nil || auth.MessageType != "auth" {
		return failAuth(conn, "invalid auth message")
	}

	userID, ok := services.ValidateSession(auth.SessionToken)
	if !ok {
		return failAuth(conn, "invalid or expired session")
	}

	conn.WriteJSON(models.AuthResponse{
		MessageType: "auth_response",
		Success:     true,
		UserID:      &userID,
	})
	return userID, true
}

func failAuth(conn *websocket.Conn, reason string) (string, bool) {
	conn.WriteJSON(models.AuthResponse{
		MessageType: "auth_response",
		Success:     false,
		Error:       &reason,
	})
	return "", false
}

// readPump consumes frames from an authenticated client until disconnect.
// Well-formed data frames are stamped with the sender and republished on
// the bus so every node fans them out.
func readPump(conn *websocket.Conn, username string) {
	conn.SetReadLimit(64 * 1024)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg models.WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		msg.Sender = username
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if msg.Timestamp == 0 {
			msg.Timestamp = time.Now().Unix()
		}

		services.PublishClientFrame(msg)
	}
}
