package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrochat/ferrochat/internal/config"
	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
	"github.com/ferrochat/ferrochat/internal/services"
)

// startWS brings up the endpoint on an in-memory store and returns a dialer
// target plus a live session for alice.
func startWS(t *testing.T) (wsURL, userID, token string) {
	t.Helper()

	require.NoError(t, database.Connect("sqlite::memory:"))
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Disconnect() })

	services.Configure(&config.Config{
		SessionTTL:       time.Hour,
		MaxMessageLength: 1000,
	})

	userID, err := services.Register("alice", "pw123456")
	require.NoError(t, err)
	token, err = services.Login("alice", "pw123456")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(ChatWebSocket))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), userID, token
}

func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAuthResponse(t *testing.T, conn *websocket.Conn) models.AuthResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp models.AuthResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "auth_response", resp.MessageType)
	return resp
}

func TestWebSocketAuthSuccess(t *testing.T) {
	wsURL, userID, token := startWS(t)
	conn := dialWS(t, wsURL)

	require.NoError(t, conn.WriteJSON(models.AuthMessage{
		MessageType:  "auth",
		SessionToken: token,
	}))

	resp := readAuthResponse(t, conn)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.UserID)
	assert.Equal(t, userID, *resp.UserID)
	assert.Nil(t, resp.Error)

	// The session is registered: frames addressed to the user arrive.
	services.Hub().SendToUser(userID, models.WebSocketMessage{
		ID:          "m1",
		MessageType: models.TypePrivateMessage,
		Sender:      "bob",
		Content:     "hello",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame models.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "m1", frame.ID)
	assert.Equal(t, models.TypePrivateMessage, frame.MessageType)
}

func TestWebSocketAuthFailures(t *testing.T) {
	wsURL, _, token := startWS(t)

	cases := []struct {
		name string
		send func(t *testing.T, conn *websocket.Conn)
	}{
		{"invalid session", func(t *testing.T, conn *websocket.Conn) {
			require.NoError(t, conn.WriteJSON(models.AuthMessage{
				MessageType:  "auth",
				SessionToken: "not-a-token",
			}))
		}},
		{"wrong message type", func(t *testing.T, conn *websocket.Conn) {
			require.NoError(t, conn.WriteJSON(models.AuthMessage{
				MessageType:  "ping",
				SessionToken: token,
			}))
		}},
		{"malformed json", func(t *testing.T, conn *websocket.Conn) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		}},
		{"binary frame", func(t *testing.T, conn *websocket.Conn) {
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialWS(t, wsURL)
			tc.send(t, conn)

			resp := readAuthResponse(t, conn)
			assert.False(t, resp.Success)
			assert.Nil(t, resp.UserID)
			require.NotNil(t, resp.Error)
			assert.NotEmpty(t, *resp.Error)

			// The server closes after the failure response.
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			assert.Error(t, err)
		})
	}
}

func TestWebSocketSecondLoginDisplacesFirst(t *testing.T) {
	wsURL, _, token := startWS(t)

	authenticate := func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(models.AuthMessage{
			MessageType:  "auth",
			SessionToken: token,
		}))
		resp := readAuthResponse(t, conn)
		require.True(t, resp.Success)
	}

	first := dialWS(t, wsURL)
	authenticate(first)

	second := dialWS(t, wsURL)
	authenticate(second)

	// The displaced connection is closed by the hub.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)
}
