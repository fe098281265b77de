package services

import "errors"

// Domain errors surfaced by the services layer. The dispatcher translates
// these into the fixed ERR: lines of the wire protocol; raw storage errors
// never reach a client.
var (
	ErrUsernameTaken     = errors.New("username already taken")
	ErrWeakCredential    = errors.New("credential too weak")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrInvalidSession    = errors.New("invalid or expired session")
	ErrUserNotFound      = errors.New("user not found")
	ErrGroupNotFound     = errors.New("group not found")
	ErrNotAMember        = errors.New("not a group member")
	ErrAlreadyMember     = errors.New("already a group member")
	ErrMessageTooLong    = errors.New("message too long")
	ErrSelfNotAllowed    = errors.New("cannot target yourself")
	ErrAlreadyPending    = errors.New("request already pending")
	ErrAlreadyFriends    = errors.New("already friends")
	ErrNoSuchRequest     = errors.New("no such request")
	ErrNoSuchInvite      = errors.New("no such invite")
)
