package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
)

// Redis channels of the real-time plane. Chat events ride channels named
// after their chat id; system and notification frames have fixed channels.
const (
	channelSystem        = "system"
	channelNotifications = "notifications"
)

var bridgeStarted sync.Once

// publishEvent puts a frame on the bus for every node, this one included.
// Without Redis the frame is routed to local connections only.
func publishEvent(channel string, msg models.WebSocketMessage) {
	if database.RedisClient == nil {
		routeEvent(channel, msg)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal realtime frame")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := database.RedisClient.Publish(ctx, channel, data).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis publish failed, delivering locally")
		routeEvent(channel, msg)
	}
}

// PublishSystemEvent broadcasts a system frame (presence changes and the
// like) across all nodes.
func PublishSystemEvent(msg models.WebSocketMessage) {
	publishEvent(channelSystem, msg)
}

// PublishNotification fans a notification frame out across all nodes.
func PublishNotification(msg models.WebSocketMessage) {
	publishEvent(channelNotifications, msg)
}

// PublishClientFrame puts a frame received from an authenticated WebSocket
// client on the bus. The channel follows the message type: private and
// group frames ride their chat channel, everything else goes to system.
func PublishClientFrame(msg models.WebSocketMessage) {
	switch msg.MessageType {
	case models.TypePrivateMessage:
		publishEvent("private:"+msg.Target, msg)
	case models.TypeGroupMessage:
		publishEvent("group:"+msg.Target, msg)
	default:
		publishEvent(channelSystem, msg)
	}
}

// routeEvent delivers a frame to this node's connections. Incoming bus
// traffic and local fallback take the same path; the originating sender is
// excluded so the author never sees its own frame twice.
func routeEvent(channel string, msg models.WebSocketMessage) {
	switch {
	case strings.HasPrefix(channel, "private:"):
		userID := strings.TrimPrefix(channel, "private:")
		hub.SendToUser(userID, msg)
	case strings.HasPrefix(channel, "group:"):
		groupID := strings.TrimPrefix(channel, "group:")
		hub.SendToGroup(groupID, msg, msg.Sender)
	default:
		hub.Broadcast(msg, msg.Sender)
	}
}

// StartRedisBridge starts the shared subscriber that feeds bus traffic into
// the local hub. Safe to call more than once; only the first call starts it.
func StartRedisBridge(ctx context.Context) {
	bridgeStarted.Do(func() {
		go runBridge(ctx)
	})
}

// runBridge holds the subscription open, reconnecting with exponential
// backoff capped at 30 seconds.
func runBridge(ctx context.Context) {
	if database.RedisClient == nil {
		log.Warn().Msg("redis not configured, realtime fan-out is node-local")
		return
	}

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		subscribed, err := consumeBus(ctx)
		if ctx.Err() != nil {
			return
		}
		// A healthy subscription that later drops restarts the ladder even
		// if it never saw a message; only repeated subscribe failures grow
		// the delay.
		if subscribed {
			backoff = time.Second
		}
		log.Error().Err(err).Dur("backoff", backoff).Msg("redis bridge disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles the reconnect delay, capped at 30 seconds.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// consumeBus holds one subscription open and routes its traffic. The
// returned flag reports whether the subscribe itself succeeded, which
// drives the caller's backoff reset.
func consumeBus(ctx context.Context) (bool, error) {
	pubsub := database.RedisClient.PSubscribe(ctx, "private:*", "group:*")
	defer pubsub.Close()
	if err := pubsub.Subscribe(ctx, channelSystem, channelNotifications); err != nil {
		return false, err
	}

	log.Info().Msg("redis bridge subscribed")

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return true, err
		}
		var frame models.WebSocketMessage
		if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed bus frame")
			continue
		}
		routeEvent(msg.Channel, frame)
	}
}
