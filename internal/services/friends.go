package services

import (
	"time"

	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
)

// SendFriendRequest opens a pending request from `fromUserID` towards the
// named user. At most one pending row may exist per ordered pair, and an
// accepted row in either direction blocks a new request.
func SendFriendRequest(fromUserID, toUsername, message string) error {
	to, err := FindUserByUsername(toUsername)
	if err != nil {
		return err
	}
	if to.ID == fromUserID {
		return ErrSelfNotAllowed
	}

	tx, err := database.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var friends int
	if err := tx.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM friend_requests
		 WHERE status = 'accepted'
		   AND ((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))`),
		fromUserID, to.ID, to.ID, fromUserID).Scan(&friends); err != nil {
		return err
	}
	if friends > 0 {
		return ErrAlreadyFriends
	}

	var pending int
	if err := tx.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM friend_requests
		 WHERE status = 'pending' AND from_user_id = ? AND to_user_id = ?`),
		fromUserID, to.ID).Scan(&pending); err != nil {
		return err
	}
	if pending > 0 {
		return ErrAlreadyPending
	}

	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO friend_requests (from_user_id, to_user_id, message, status, created_at)
		 VALUES (?, ?, ?, 'pending', ?)`),
		fromUserID, to.ID, message, time.Now().Unix()); err != nil {
		// The partial unique index rejects a concurrent duplicate the
		// pending count above could not see.
		if isUniqueViolation(err) {
			return ErrAlreadyPending
		}
		return err
	}
	return tx.Commit()
}

// AcceptFriendRequest transitions the pending request from the named user
// to accepted. The accepted row is the friendship fact for both directions.
func AcceptFriendRequest(userID, fromUsername string) error {
	return settleFriendRequest(userID, fromUsername, models.StatusAccepted)
}

// RejectFriendRequest transitions the pending request to rejected.
func RejectFriendRequest(userID, fromUsername string) error {
	return settleFriendRequest(userID, fromUsername, models.StatusRejected)
}

func settleFriendRequest(userID, fromUsername, status string) error {
	from, err := FindUserByUsername(fromUsername)
	if err != nil {
		return err
	}

	res, err := database.DB.Exec(database.Rebind(
		`UPDATE friend_requests SET status = ?
		 WHERE from_user_id = ? AND to_user_id = ? AND status = 'pending'`),
		status, from.ID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchRequest
	}
	return nil
}

// ListFriends enumerates the usernames on the other end of every accepted
// request involving the user.
func ListFriends(userID string) ([]string, error) {
	rows, err := database.DB.Query(database.Rebind(
		`SELECT u.username FROM friend_requests fr
		 JOIN users u ON u.id = CASE WHEN fr.from_user_id = ? THEN fr.to_user_id ELSE fr.from_user_id END
		 WHERE fr.status = 'accepted' AND (fr.from_user_id = ? OR fr.to_user_id = ?)
		 ORDER BY u.username`),
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	return scanUsernames(rows)
}

// ReceivedRequests lists pending requests targeting the user; PeerName is
// the sender's username.
func ReceivedRequests(userID string) ([]models.FriendRequest, error) {
	return listRequests(
		`SELECT fr.id, fr.from_user_id, fr.to_user_id, u.username, fr.message, fr.created_at
		 FROM friend_requests fr JOIN users u ON u.id = fr.from_user_id
		 WHERE fr.to_user_id = ? AND fr.status = 'pending' ORDER BY fr.id`,
		userID)
}

// SentRequests lists pending requests the user has sent; PeerName is the
// recipient's username.
func SentRequests(userID string) ([]models.FriendRequest, error) {
	return listRequests(
		`SELECT fr.id, fr.from_user_id, fr.to_user_id, u.username, fr.message, fr.created_at
		 FROM friend_requests fr JOIN users u ON u.id = fr.to_user_id
		 WHERE fr.from_user_id = ? AND fr.status = 'pending' ORDER BY fr.id`,
		userID)
}

func listRequests(query, userID string) ([]models.FriendRequest, error) {
	rows, err := database.DB.Query(database.Rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FriendRequest
	for rows.Next() {
		var fr models.FriendRequest
		if err := rows.Scan(&fr.ID, &fr.FromUserID, &fr.ToUserID, &fr.PeerName, &fr.Message, &fr.CreatedAt); err != nil {
			return nil, err
		}
		fr.Status = models.StatusPending
		out = append(out, fr)
	}
	return out, rows.Err()
}
