package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrochat/ferrochat/internal/database"
)

func TestCreateGroupFoundingMember(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)
	require.NotEmpty(t, g.ID)

	member, err := IsMember(g.ID, alice)
	require.NoError(t, err)
	assert.True(t, member)

	groups, err := MyGroups(alice)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "devs", groups[0].Name)
}

func TestInviteAcceptFlow(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	bob := mustRegister(t, "bob")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	inviteID, err := Invite(alice, g.ID, "bob")
	require.NoError(t, err)
	require.NotZero(t, inviteID)

	invites, err := MyInvites(bob)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, inviteID, invites[0].ID)
	assert.Equal(t, "devs", invites[0].GroupName)
	assert.Equal(t, "alice", invites[0].FromName)

	groupID, err := AcceptInvite(bob, inviteID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, groupID)

	member, err := IsMember(g.ID, bob)
	require.NoError(t, err)
	assert.True(t, member)

	// Settled invites disappear from the pending list.
	invites, err = MyInvites(bob)
	require.NoError(t, err)
	assert.Empty(t, invites)

	// An invite settles exactly once.
	_, err = AcceptInvite(bob, inviteID)
	assert.ErrorIs(t, err, ErrNoSuchInvite)
}

func TestInviteErrors(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	mustRegister(t, "bob")
	carol := mustRegister(t, "carol")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	_, err = Invite(alice, "missing-group", "bob")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	_, err = Invite(carol, g.ID, "bob")
	assert.ErrorIs(t, err, ErrNotAMember)

	_, err = Invite(alice, g.ID, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = Invite(alice, g.ID, "alice")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = Invite(alice, g.ID, "bob")
	require.NoError(t, err)
	_, err = Invite(alice, g.ID, "bob")
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestPendingInviteUniqueAtStore(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	bob := mustRegister(t, "bob")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	inviteID, err := Invite(alice, g.ID, "bob")
	require.NoError(t, err)

	// A writer that races past the application-level pending check is
	// stopped by the partial unique index itself.
	_, err = database.DB.Exec(database.Rebind(
		`INSERT INTO group_invites (group_id, from_user_id, to_user_id, status, created_at)
		 VALUES (?, ?, ?, 'pending', ?)`),
		g.ID, alice, bob, time.Now().Unix())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))

	// Settled rows leave the index scope: a fresh invite is allowed again.
	require.NoError(t, RejectInvite(bob, inviteID))
	_, err = Invite(alice, g.ID, "bob")
	require.NoError(t, err)
}

func TestRejectInvite(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	bob := mustRegister(t, "bob")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	inviteID, err := Invite(alice, g.ID, "bob")
	require.NoError(t, err)

	require.NoError(t, RejectInvite(bob, inviteID))

	member, err := IsMember(g.ID, bob)
	require.NoError(t, err)
	assert.False(t, member)

	assert.ErrorIs(t, RejectInvite(bob, inviteID), ErrNoSuchInvite)
	assert.ErrorIs(t, RejectInvite(bob, 99999), ErrNoSuchInvite)
}

func TestInviteTargetsInviteeOnly(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	mustRegister(t, "bob")
	carol := mustRegister(t, "carol")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	inviteID, err := Invite(alice, g.ID, "bob")
	require.NoError(t, err)

	_, err = AcceptInvite(carol, inviteID)
	assert.ErrorIs(t, err, ErrNoSuchInvite)
}

func TestJoinAndLeaveGroup(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	bob := mustRegister(t, "bob")

	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	require.NoError(t, JoinGroup(bob, g.ID))
	assert.ErrorIs(t, JoinGroup(bob, g.ID), ErrAlreadyMember)
	assert.ErrorIs(t, JoinGroup(bob, "missing-group"), ErrGroupNotFound)

	members, err := GroupMembers(g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, LeaveGroup(bob, g.ID))
	assert.ErrorIs(t, LeaveGroup(bob, g.ID), ErrNotAMember)
}

func TestGroupSurvivesLastMemberLeaving(t *testing.T) {
	setupTest(t)

	alice := mustRegister(t, "alice")
	g, err := CreateGroup(alice, "devs")
	require.NoError(t, err)

	require.NoError(t, LeaveGroup(alice, g.ID))

	// The group row stays; joining again works.
	require.NoError(t, JoinGroup(alice, g.ID))
}
