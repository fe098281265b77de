package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrochat/ferrochat/internal/database"
)

func TestRegisterAndLogin(t *testing.T) {
	setupTest(t)

	userID := mustRegister(t, "alice")
	assert.NotEmpty(t, userID)

	token := mustLogin(t, "alice")
	got, ok := ValidateSession(token)
	require.True(t, ok)
	assert.Equal(t, userID, got)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	_, err := Register("alice", "pw123456")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterWeakCredentials(t *testing.T) {
	setupTest(t)

	_, err := Register("ab", "pw123456")
	assert.ErrorIs(t, err, ErrWeakCredential)

	_, err = Register("alice", "short")
	assert.ErrorIs(t, err, ErrWeakCredential)

	_, err = Register("bad name", "pw123456")
	assert.ErrorIs(t, err, ErrWeakCredential)
}

func TestLoginWrongPassword(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	_, err := Login("alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = Login("nobody", "pw123456")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestLoginSetsOnline(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	mustLogin(t, "alice")

	u, err := FindUserByUsername("alice")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	token := mustLogin(t, "alice")

	require.NoError(t, Logout(token))

	_, ok := ValidateSession(token)
	assert.False(t, ok)

	u, err := FindUserByUsername("alice")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	assert.ErrorIs(t, Logout(token), ErrInvalidSession)
}

func TestLogoutKeepsOnlineWithSecondSession(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	first := mustLogin(t, "alice")
	mustLogin(t, "alice")

	require.NoError(t, Logout(first))

	u, err := FindUserByUsername("alice")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
}

func TestValidateSessionExpired(t *testing.T) {
	cfg := setupTest(t)
	cfg.SessionTTL = -time.Second

	mustRegister(t, "alice")
	token := mustLogin(t, "alice")

	_, ok := ValidateSession(token)
	assert.False(t, ok)
}

func TestValidateSessionEmptyToken(t *testing.T) {
	setupTest(t)

	_, ok := ValidateSession("")
	assert.False(t, ok)
}

func TestReapExpiredSessions(t *testing.T) {
	cfg := setupTest(t)
	cfg.SessionTTL = -time.Second

	mustRegister(t, "alice")
	token := mustLogin(t, "alice")

	require.NoError(t, ReapExpiredSessions())

	var sessions int
	require.NoError(t, database.DB.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE session_token = ?`, token).Scan(&sessions))
	assert.Zero(t, sessions)

	var events int
	require.NoError(t, database.DB.QueryRow(
		`SELECT COUNT(*) FROM session_events WHERE event_type = 'expired'`).Scan(&events))
	assert.Equal(t, 1, events)

	u, err := FindUserByUsername("alice")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestReapLeavesLiveSessions(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	token := mustLogin(t, "alice")

	require.NoError(t, ReapExpiredSessions())

	_, ok := ValidateSession(token)
	assert.True(t, ok)
}

func TestSessionEventsRecorded(t *testing.T) {
	setupTest(t)

	mustRegister(t, "alice")
	token := mustLogin(t, "alice")
	require.NoError(t, Logout(token))

	rows, err := database.DB.Query(`SELECT event_type FROM session_events ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var events []string
	for rows.Next() {
		var e string
		require.NoError(t, rows.Scan(&e))
		events = append(events, e)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"login", "logout"}, events)
}
