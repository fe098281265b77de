package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
)

// CreateGroup creates a group with the creator as founding member. The group
// row and the membership row commit together.
func CreateGroup(ownerID, name string) (*models.Group, error) {
	g := &models.Group{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: ownerID,
		CreatedAt: time.Now().Unix(),
	}

	tx, err := database.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO groups (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`),
		g.ID, g.Name, g.CreatedBy, g.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`),
		g.ID, ownerID, g.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info().Str("group_id", g.ID).Str("name", name).Msg("group created")
	return g, nil
}

// Invite records a pending invite. The actor must be a member; the invitee
// must exist, must not already be a member and must not already hold a
// pending invite for the group.
func Invite(actorID, groupID, inviteeUsername string) (int64, error) {
	if err := assertGroupExists(groupID); err != nil {
		return 0, err
	}
	if err := assertMember(groupID, actorID); err != nil {
		return 0, err
	}

	invitee, err := FindUserByUsername(inviteeUsername)
	if err != nil {
		return 0, err
	}
	member, err := IsMember(groupID, invitee.ID)
	if err != nil {
		return 0, err
	}
	if member {
		return 0, ErrAlreadyMember
	}

	var pending int
	if err := database.DB.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM group_invites
		 WHERE group_id = ? AND to_user_id = ? AND status = 'pending'`),
		groupID, invitee.ID).Scan(&pending); err != nil {
		return 0, err
	}
	if pending > 0 {
		return 0, ErrAlreadyPending
	}

	if _, err := database.DB.Exec(database.Rebind(
		`INSERT INTO group_invites (group_id, from_user_id, to_user_id, status, created_at)
		 VALUES (?, ?, ?, 'pending', ?)`),
		groupID, actorID, invitee.ID, time.Now().Unix()); err != nil {
		// The partial unique index catches a concurrent inviter that slipped
		// past the pending count above.
		if isUniqueViolation(err) {
			return 0, ErrAlreadyPending
		}
		return 0, err
	}

	// lib/pq has no LastInsertId; the (group, invitee, pending) row is
	// unique, so read the id back.
	var inviteID int64
	if err := database.DB.QueryRow(database.Rebind(
		`SELECT id FROM group_invites
		 WHERE group_id = ? AND to_user_id = ? AND status = 'pending'`),
		groupID, invitee.ID).Scan(&inviteID); err != nil {
		return 0, err
	}
	return inviteID, nil
}

// AcceptInvite marks the invite accepted and inserts the membership row in
// one transaction. The invite must target the actor and still be pending.
func AcceptInvite(actorID string, inviteID int64) (string, error) {
	tx, err := database.DB.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var groupID string
	err = tx.QueryRow(database.Rebind(
		`SELECT group_id FROM group_invites
		 WHERE id = ? AND to_user_id = ? AND status = 'pending'`),
		inviteID, actorID).Scan(&groupID)
	if err == sql.ErrNoRows {
		return "", ErrNoSuchInvite
	}
	if err != nil {
		return "", err
	}

	if _, err := tx.Exec(database.Rebind(
		`UPDATE group_invites SET status = 'accepted' WHERE id = ?`), inviteID); err != nil {
		return "", err
	}
	if _, err := tx.Exec(database.Rebind(
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`),
		groupID, actorID, time.Now().Unix()); err != nil {
		// Already a member through another path; the invite is settled anyway.
		if !isUniqueViolation(err) {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return groupID, nil
}

// RejectInvite marks the invite rejected. No membership row is written.
func RejectInvite(actorID string, inviteID int64) error {
	res, err := database.DB.Exec(database.Rebind(
		`UPDATE group_invites SET status = 'rejected'
		 WHERE id = ? AND to_user_id = ? AND status = 'pending'`),
		inviteID, actorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchInvite
	}
	return nil
}

// MyInvites lists the actor's pending invites with group and inviter names
// resolved for display.
func MyInvites(actorID string) ([]models.GroupInvite, error) {
	rows, err := database.DB.Query(database.Rebind(
		`SELECT gi.id, gi.group_id, g.name, gi.from_user_id, u.username, gi.created_at
		 FROM group_invites gi
		 JOIN groups g ON g.id = gi.group_id
		 JOIN users u ON u.id = gi.from_user_id
		 WHERE gi.to_user_id = ? AND gi.status = 'pending'
		 ORDER BY gi.id`), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GroupInvite
	for rows.Next() {
		var gi models.GroupInvite
		if err := rows.Scan(&gi.ID, &gi.GroupID, &gi.GroupName, &gi.FromUserID, &gi.FromName, &gi.CreatedAt); err != nil {
			return nil, err
		}
		gi.ToUserID = actorID
		gi.Status = models.StatusPending
		out = append(out, gi)
	}
	return out, rows.Err()
}

// MyGroups lists every group the actor belongs to, oldest membership first.
func MyGroups(actorID string) ([]models.Group, error) {
	rows, err := database.DB.Query(database.Rebind(
		`SELECT g.id, g.name, g.created_by, g.created_at
		 FROM group_members gm JOIN groups g ON g.id = gm.group_id
		 WHERE gm.user_id = ? ORDER BY gm.joined_at, g.id`), actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// JoinGroup adds the actor to an existing group directly.
func JoinGroup(actorID, groupID string) error {
	if err := assertGroupExists(groupID); err != nil {
		return err
	}
	_, err := database.DB.Exec(database.Rebind(
		`INSERT INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`),
		groupID, actorID, time.Now().Unix())
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	return err
}

// LeaveGroup removes the actor's membership. The group row stays even when
// the last member leaves.
func LeaveGroup(actorID, groupID string) error {
	if err := assertGroupExists(groupID); err != nil {
		return err
	}
	res, err := database.DB.Exec(database.Rebind(
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`),
		groupID, actorID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAMember
	}
	return nil
}

// GroupMembers returns the member user ids, sorted so the set is stable for
// key derivation.
func GroupMembers(groupID string) ([]string, error) {
	rows, err := database.DB.Query(database.Rebind(
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`), groupID)
	if err != nil {
		return nil, err
	}
	return scanUsernames(rows)
}

// IsMember reports whether the user belongs to the group.
func IsMember(groupID, userID string) (bool, error) {
	var n int
	if err := database.DB.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`),
		groupID, userID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func assertGroupExists(groupID string) error {
	var n int
	if err := database.DB.QueryRow(database.Rebind(
		`SELECT COUNT(*) FROM groups WHERE id = ?`), groupID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func assertMember(groupID, userID string) error {
	member, err := IsMember(groupID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}
	return nil
}
