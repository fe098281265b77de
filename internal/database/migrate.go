package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Migrate creates all tables and indexes if they do not exist. It is
// idempotent: running it against an up-to-date database is a no-op.
func Migrate() error {
	autoinc := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driverName == "postgres" {
		autoinc = "BIGSERIAL PRIMARY KEY"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			is_online INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS auth (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			password_hash TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id),
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,

		// Append-only session lifecycle log.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS session_events (
			id %s,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`, autoinc),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS friend_requests (
			id %s,
			from_user_id TEXT NOT NULL REFERENCES users(id),
			to_user_id TEXT NOT NULL REFERENCES users(id),
			message TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at BIGINT NOT NULL
		)`, autoinc),

		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_by TEXT NOT NULL REFERENCES users(id),
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL REFERENCES groups(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at BIGINT NOT NULL,
			UNIQUE(group_id, user_id)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS group_invites (
			id %s,
			group_id TEXT NOT NULL REFERENCES groups(id),
			from_user_id TEXT NOT NULL REFERENCES users(id),
			to_user_id TEXT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at BIGINT NOT NULL
		)`, autoinc),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS encrypted_messages (
			id %s,
			chat_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			message TEXT NOT NULL,
			sent_at BIGINT NOT NULL
		)`, autoinc),

		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_user_id ON session_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_to ON friend_requests(to_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_from ON friend_requests(from_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_group_invites_to ON group_invites(to_user_id, status)`,

		// Concurrent writers race the application-level pending checks;
		// these partial unique indexes make the store reject the loser.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_friend_requests_pending
			ON friend_requests(from_user_id, to_user_id) WHERE status = 'pending'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_group_invites_pending
			ON group_invites(group_id, to_user_id) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON encrypted_messages(chat_id, sent_at, id)`,
	}

	for _, query := range queries {
		if _, err := DB.Exec(query); err != nil {
			return fmt.Errorf("%w: apply schema: %v", ErrStoreUnavailable, err)
		}
	}

	log.Info().Msg("store schema up to date")
	return nil
}
