package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/config"
	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
	"github.com/ferrochat/ferrochat/pkg/utils"
)

var cfg *config.Config

// Configure wires the loaded configuration into the services layer. Must be
// called once at startup, before any service function.
func Configure(c *config.Config) {
	cfg = c
}

// Register creates a new user with its credential in one transaction.
// A username collision yields ErrUsernameTaken.
func Register(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if err := utils.ValidateUsername(username); err != nil {
		return "", ErrWeakCredential
	}
	if len(password) < utils.MinPasswordLength {
		return "", ErrWeakCredential
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return "", err
	}

	userID := uuid.New().String()

	tx, err := database.DB.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO users (id, username, is_online) VALUES (?, ?, 0)`),
		userID, username); err != nil {
		if isUniqueViolation(err) {
			return "", ErrUsernameTaken
		}
		return "", err
	}
	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO auth (user_id, password_hash) VALUES (?, ?)`),
		userID, hash); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	log.Info().Str("username", username).Msg("user registered")
	return userID, nil
}

// Login verifies the credential and issues a fresh session token. The user
// may hold multiple concurrent sessions.
func Login(username, password string) (string, error) {
	var userID, hash string
	err := database.DB.QueryRow(database.Rebind(
		`SELECT u.id, a.password_hash FROM users u JOIN auth a ON a.user_id = u.id WHERE u.username = ?`),
		username).Scan(&userID, &hash)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredential
	}
	if err != nil {
		return "", err
	}

	ok, err := utils.VerifyPassword(password, hash)
	if err != nil || !ok {
		return "", ErrInvalidCredential
	}

	token, err := newSessionToken()
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	expires := time.Now().Add(cfg.SessionTTL).Unix()

	if _, err := database.DB.Exec(database.Rebind(
		`INSERT INTO sessions (session_token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		token, userID, now, expires); err != nil {
		return "", err
	}
	if _, err := database.DB.Exec(database.Rebind(
		`UPDATE users SET is_online = 1 WHERE id = ?`), userID); err != nil {
		return "", err
	}
	recordSessionEvent(userID, models.SessionEventLogin)

	log.Info().Str("username", username).Msg("user logged in")
	return token, nil
}

// ValidateSession resolves a token to its user id. A token is valid iff the
// row exists and has not expired.
func ValidateSession(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var userID string
	err := database.DB.QueryRow(database.Rebind(
		`SELECT user_id FROM sessions WHERE session_token = ? AND expires_at > ?`),
		token, time.Now().Unix()).Scan(&userID)
	if err != nil {
		return "", false
	}
	return userID, true
}

// Logout destroys the session and reconciles the presence flag.
func Logout(token string) error {
	var userID string
	err := database.DB.QueryRow(database.Rebind(
		`SELECT user_id FROM sessions WHERE session_token = ?`), token).Scan(&userID)
	if err == sql.ErrNoRows {
		return ErrInvalidSession
	}
	if err != nil {
		return err
	}

	if _, err := database.DB.Exec(database.Rebind(
		`DELETE FROM sessions WHERE session_token = ?`), token); err != nil {
		return err
	}
	recordSessionEvent(userID, models.SessionEventLogout)

	return reconcilePresence(userID)
}

// reconcilePresence clears is_online when the user has no live sessions left.
func reconcilePresence(userID string) error {
	now := time.Now().Unix()
	var live int
	if err := database.DB.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND expires_at > ?`),
		userID, now).Scan(&live); err != nil {
		return err
	}
	if live == 0 {
		if _, err := database.DB.Exec(database.Rebind(
			`UPDATE users SET is_online = 0 WHERE id = ?`), userID); err != nil {
			return err
		}
	}
	return nil
}

func recordSessionEvent(userID, eventType string) {
	if _, err := database.DB.Exec(database.Rebind(
		`INSERT INTO session_events (user_id, event_type, created_at) VALUES (?, ?, ?)`),
		userID, eventType, time.Now().Unix()); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to record session event")
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// reaperMu prevents overlapping reaper runs within one process.
var reaperMu sync.Mutex

// StartSessionReaper runs ReapExpiredSessions every interval until ctx is
// cancelled.
func StartSessionReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ReapExpiredSessions(); err != nil {
					log.Error().Err(err).Msg("session reaper tick failed")
				}
			}
		}
	}()
}

// ReapExpiredSessions deletes every expired session, appends an `expired`
// event per victim and clears is_online for users left with no live
// sessions. Concurrent runs are skipped.
func ReapExpiredSessions() error {
	if !reaperMu.TryLock() {
		return nil
	}
	defer reaperMu.Unlock()

	now := time.Now().Unix()

	rows, err := database.DB.Query(database.Rebind(
		`SELECT session_token, user_id FROM sessions WHERE expires_at <= ?`), now)
	if err != nil {
		return err
	}
	type victim struct{ token, userID string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.token, &v.userID); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range victims {
		if _, err := database.DB.Exec(database.Rebind(
			`DELETE FROM sessions WHERE session_token = ?`), v.token); err != nil {
			return err
		}
		recordSessionEvent(v.userID, models.SessionEventExpired)
		if err := reconcilePresence(v.userID); err != nil {
			return err
		}
	}

	if len(victims) > 0 {
		log.Info().Int("expired", len(victims)).Msg("reaped expired sessions")
	}
	return nil
}

// isUniqueViolation matches unique-constraint errors across both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
