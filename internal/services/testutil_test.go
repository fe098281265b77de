package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrochat/ferrochat/internal/config"
	"github.com/ferrochat/ferrochat/internal/database"
)

// setupTest opens a fresh in-memory store and wires a default test config.
// Tests mutate the returned config when they need encryption or tighter
// limits.
func setupTest(t *testing.T) *config.Config {
	t.Helper()

	require.NoError(t, database.Connect("sqlite::memory:"))
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Disconnect() })

	c := &config.Config{
		SessionTTL:       time.Hour,
		ReaperInterval:   time.Hour,
		MaxMessageLength: 1000,
	}
	Configure(c)
	return c
}

// mustRegister creates a user and returns its id.
func mustRegister(t *testing.T, username string) string {
	t.Helper()
	userID, err := Register(username, "pw123456")
	require.NoError(t, err)
	return userID
}

// mustLogin returns a live session token for the user.
func mustLogin(t *testing.T, username string) string {
	t.Helper()
	token, err := Login(username, "pw123456")
	require.NoError(t, err)
	return token
}
