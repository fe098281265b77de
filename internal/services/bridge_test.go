package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ferrochat/ferrochat/internal/models"
)

func testFrame(id, sender string) models.WebSocketMessage {
	return models.WebSocketMessage{ID: id, MessageType: models.TypePrivateMessage, Sender: sender}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	d := time.Second
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		d = nextBackoff(d)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, seen)
}

func TestRouteEventPrefixes(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	bob := mustRegister(t, "bob")

	h := Hub()
	aliceConn, bobConn := &fakeConn{}, &fakeConn{}
	ca := h.Register("ca", alice, "alice", aliceConn)
	cb := h.Register("cb", bob, "bob", bobConn)
	defer h.Unregister(ca)
	defer h.Unregister(cb)

	// private:<user_id> targets exactly that user's connection.
	routeEvent("private:"+bob, testFrame("m1", "alice"))
	frames := waitForFrames(t, bobConn, 1)
	assert.Equal(t, "m1", frames[0].ID)

	// Fixed channels broadcast, excluding the originating sender.
	routeEvent("system", testFrame("m2", "alice"))
	waitForFrames(t, bobConn, 2)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, aliceConn.received())
}
