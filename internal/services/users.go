package services

import (
	"database/sql"

	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
)

// FindUserByUsername looks a user up by exact username.
func FindUserByUsername(username string) (*models.User, error) {
	var u models.User
	var online int
	err := database.DB.QueryRow(database.Rebind(
		`SELECT id, username, is_online FROM users WHERE username = ?`),
		username).Scan(&u.ID, &u.Username, &online)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.IsOnline = online != 0
	return &u, nil
}

// GetUsernameByID resolves a user id to its username. Unknown ids fall back
// to the id itself so message rendering stays total.
func GetUsernameByID(userID string) string {
	var username string
	err := database.DB.QueryRow(database.Rebind(
		`SELECT username FROM users WHERE id = ?`), userID).Scan(&username)
	if err != nil {
		return userID
	}
	return username
}

// ListOnlineUsers returns the usernames of all users with a live presence
// flag, sorted for stable output.
func ListOnlineUsers() ([]string, error) {
	return listUsernames(`SELECT username FROM users WHERE is_online = 1 ORDER BY username`)
}

// ListAllUsers returns every username, optionally excluding one user id.
func ListAllUsers(excludeUserID string) ([]string, error) {
	if excludeUserID == "" {
		return listUsernames(`SELECT username FROM users ORDER BY username`)
	}
	rows, err := database.DB.Query(database.Rebind(
		`SELECT username FROM users WHERE id <> ? ORDER BY username`), excludeUserID)
	if err != nil {
		return nil, err
	}
	return scanUsernames(rows)
}

func listUsernames(query string) ([]string, error) {
	rows, err := database.DB.Query(query)
	if err != nil {
		return nil, err
	}
	return scanUsernames(rows)
}

func scanUsernames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
