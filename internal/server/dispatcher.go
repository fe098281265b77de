// Package server implements the line-framed TCP text RPC: one command per
// line in, one response out, in strict request order per connection.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/config"
	"github.com/ferrochat/ferrochat/internal/models"
	"github.com/ferrochat/ferrochat/internal/services"
)

const (
	errUnknownCommand = "ERR: Unknown or invalid command"
	errInvalidSession = "ERR: Invalid or expired session"
)

// Dispatcher parses command lines and routes them to the services layer.
type Dispatcher struct {
	cfg *config.Config
}

func NewDispatcher(cfg *config.Config) *Dispatcher {
	return &Dispatcher{cfg: cfg}
}

// Dispatch handles one command line. The returned response carries no
// trailing newline for single-line shapes; multi-line shapes end every
// content line with \n so the connection writer's closing \n yields the
// empty-line terminator. quit reports that the connection should close
// after the response is written.
func (d *Dispatcher) Dispatch(line string) (response string, quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/register":
		if len(args) != 2 {
			return errUnknownCommand, false
		}
		if _, err := services.Register(args[0], args[1]); err != nil {
			return d.errLine(err), false
		}
		return "OK: Registered", false

	case "/login":
		if len(args) != 2 {
			return errUnknownCommand, false
		}
		token, err := services.Login(args[0], args[1])
		if err != nil {
			return d.errLine(err), false
		}
		return "OK: Logged in SESSION:" + token, false

	case "/logout":
		if len(args) != 1 {
			return errUnknownCommand, false
		}
		if err := services.Logout(args[0]); err != nil {
			return d.errLine(err), false
		}
		return "OK: Logged out", false

	case "/validate_session":
		if len(args) != 1 {
			return errUnknownCommand, false
		}
		userID, ok := services.ValidateSession(args[0])
		if !ok {
			return errInvalidSession, false
		}
		return "OK: " + services.GetUsernameByID(userID), false

	case "/users":
		names, err := services.ListOnlineUsers()
		if err != nil {
			return d.errLine(err), false
		}
		if len(names) == 0 {
			return "OK: No users online", false
		}
		return "OK: " + strings.Join(names, ", "), false

	case "/all_users":
		names, err := services.ListAllUsers("")
		if err != nil {
			return d.errLine(err), false
		}
		if len(names) == 0 {
			return "OK: No users", false
		}
		return "OK: " + strings.Join(names, ", "), false

	case "/create_group":
		return d.withSession(args, 2, func(userID string) string {
			g, err := services.CreateGroup(userID, args[1])
			if err != nil {
				return d.errLine(err)
			}
			return "OK: Group created: " + g.ID
		})

	case "/my_groups":
		return d.withSession(args, 1, func(userID string) string {
			groups, err := services.MyGroups(userID)
			if err != nil {
				return d.errLine(err)
			}
			if len(groups) == 0 {
				return "OK: No groups"
			}
			items := make([]string, len(groups))
			for i, g := range groups {
				items[i] = g.ID + ":" + g.Name
			}
			return "OK: My groups: " + strings.Join(items, ", ")
		})

	case "/invite":
		return d.withSession(args, 3, func(userID string) string {
			inviteID, err := services.Invite(userID, args[1], args[2])
			if err != nil {
				return d.errLine(err)
			}
			return fmt.Sprintf("OK: Invite sent (id %d)", inviteID)
		})

	case "/accept_invite":
		return d.withSession(args, 2, func(userID string) string {
			inviteID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return d.errLine(services.ErrNoSuchInvite)
			}
			if _, err := services.AcceptInvite(userID, inviteID); err != nil {
				return d.errLine(err)
			}
			return "OK: Joined"
		})

	case "/reject_invite":
		return d.withSession(args, 2, func(userID string) string {
			inviteID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return d.errLine(services.ErrNoSuchInvite)
			}
			if err := services.RejectInvite(userID, inviteID); err != nil {
				return d.errLine(err)
			}
			return "OK: Invite rejected"
		})

	case "/my_invites":
		return d.withSession(args, 1, func(userID string) string {
			invites, err := services.MyInvites(userID)
			if err != nil {
				return d.errLine(err)
			}
			if len(invites) == 0 {
				return "OK: No invites"
			}
			items := make([]string, len(invites))
			for i, inv := range invites {
				items[i] = fmt.Sprintf("%d:%s from:%s", inv.ID, inv.GroupName, inv.FromName)
			}
			return "OK: Invites: " + strings.Join(items, " | ")
		})

	case "/join_group":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.JoinGroup(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Joined"
		})

	case "/leave_group":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.LeaveGroup(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Left group"
		})

	case "/send_group_message":
		if len(args) < 3 {
			return errUnknownCommand, false
		}
		return d.withSession(args[:2], 2, func(userID string) string {
			if err := services.SendGroupMessage(userID, args[1], strings.Join(args[2:], " ")); err != nil {
				return d.errLine(err)
			}
			return "OK: Message sent"
		})

	case "/send_private_message":
		if len(args) < 3 {
			return errUnknownCommand, false
		}
		return d.withSession(args[:2], 2, func(userID string) string {
			if err := services.SendPrivateMessage(userID, args[1], strings.Join(args[2:], " ")); err != nil {
				return d.errLine(err)
			}
			return "OK: Message sent"
		})

	case "/get_group_messages":
		return d.withSession(args, 2, func(userID string) string {
			msgs, err := services.GetGroupMessages(userID, args[1])
			if err != nil {
				return d.errLine(err)
			}
			return renderBatch(msgs)
		})

	case "/get_private_messages":
		return d.withSession(args, 2, func(userID string) string {
			msgs, err := services.GetPrivateMessages(userID, args[1])
			if err != nil {
				return d.errLine(err)
			}
			return renderBatch(msgs)
		})

	case "/delete_group_messages":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.DeleteGroupMessages(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Messages deleted"
		})

	case "/delete_private_messages":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.DeletePrivateMessages(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Messages deleted"
		})

	case "/send_friend_request":
		if len(args) < 2 {
			return errUnknownCommand, false
		}
		return d.withSession(args[:2], 2, func(userID string) string {
			message := strings.Join(args[2:], " ")
			if err := services.SendFriendRequest(userID, args[1], message); err != nil {
				return d.errLine(err)
			}
			return "OK: Friend request sent"
		})

	case "/accept_friend_request":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.AcceptFriendRequest(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Friend request accepted"
		})

	case "/reject_friend_request":
		return d.withSession(args, 2, func(userID string) string {
			if err := services.RejectFriendRequest(userID, args[1]); err != nil {
				return d.errLine(err)
			}
			return "OK: Friend request rejected"
		})

	case "/list_friends":
		return d.withSession(args, 1, func(userID string) string {
			names, err := services.ListFriends(userID)
			if err != nil {
				return d.errLine(err)
			}
			if len(names) == 0 {
				return "OK: No friends"
			}
			return "OK: " + strings.Join(names, ", ")
		})

	case "/received_friend_requests":
		return d.withSession(args, 1, func(userID string) string {
			reqs, err := services.ReceivedRequests(userID)
			if err != nil {
				return d.errLine(err)
			}
			return renderRequests(reqs)
		})

	case "/sent_friend_requests":
		return d.withSession(args, 1, func(userID string) string {
			reqs, err := services.SentRequests(userID)
			if err != nil {
				return d.errLine(err)
			}
			return renderRequests(reqs)
		})

	case "/help":
		return helpText, false

	case "/quit":
		return "OK: Disconnected", true

	default:
		return errUnknownCommand, false
	}
}

// withSession enforces arity, then validates the leading session token and
// runs fn with the resolved user id.
func (d *Dispatcher) withSession(args []string, arity int, fn func(userID string) string) (string, bool) {
	if len(args) != arity {
		return errUnknownCommand, false
	}
	userID, ok := services.ValidateSession(args[0])
	if !ok {
		return errInvalidSession, false
	}
	return fn(userID), false
}

// errLine maps a domain error to its ERR: line. Storage errors are logged
// and collapse to a generic reason so SQL detail never reaches a client.
func (d *Dispatcher) errLine(err error) string {
	switch {
	case errors.Is(err, services.ErrUsernameTaken):
		return "ERR: Username already taken"
	case errors.Is(err, services.ErrWeakCredential):
		return "ERR: Invalid username or weak password"
	case errors.Is(err, services.ErrInvalidCredential):
		return "ERR: Invalid credentials"
	case errors.Is(err, services.ErrInvalidSession):
		return errInvalidSession
	case errors.Is(err, services.ErrUserNotFound):
		return "ERR: User not found"
	case errors.Is(err, services.ErrGroupNotFound):
		return "ERR: Group not found"
	case errors.Is(err, services.ErrNotAMember):
		return "ERR: Not a group member"
	case errors.Is(err, services.ErrAlreadyMember):
		return "ERR: Already a group member"
	case errors.Is(err, services.ErrMessageTooLong):
		return fmt.Sprintf("ERR: Message too long (max %d chars)", d.cfg.MaxMessageLength)
	case errors.Is(err, services.ErrSelfNotAllowed):
		return "ERR: Cannot target yourself"
	case errors.Is(err, services.ErrAlreadyPending):
		return "ERR: Request already pending"
	case errors.Is(err, services.ErrAlreadyFriends):
		return "ERR: Already friends"
	case errors.Is(err, services.ErrNoSuchRequest):
		return "ERR: No such request"
	case errors.Is(err, services.ErrNoSuchInvite):
		return "ERR: No such invite"
	default:
		log.Error().Err(err).Msg("command failed")
		return "ERR: Internal error"
	}
}

// renderBatch builds the multi-line message response. Every line, the
// header included, ends with \n: the connection writer's closing \n then
// forms the empty line that terminates the batch on the wire.
func renderBatch(msgs []services.RenderedMessage) string {
	var b strings.Builder
	b.WriteString("OK: Messages:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.SentAt, m.Sender, m.Text)
	}
	return b.String()
}

func renderRequests(reqs []models.FriendRequest) string {
	if len(reqs) == 0 {
		return "OK: No friend requests"
	}
	items := make([]string, len(reqs))
	for i, r := range reqs {
		items[i] = r.PeerName + ": " + r.Message
	}
	return "OK: " + strings.Join(items, " | ")
}

const helpText = "OK: Commands: /register <user> <pass>, /login <user> <pass>, /logout <token>, " +
	"/validate_session <token>, /users, /all_users, /create_group <token> <name>, /my_groups <token>, " +
	"/invite <token> <group_id> <user>, /accept_invite <token> <invite_id>, /reject_invite <token> <invite_id>, " +
	"/my_invites <token>, /join_group <token> <group_id>, /leave_group <token> <group_id>, " +
	"/send_group_message <token> <group_id> <text>, /send_private_message <token> <user> <text>, " +
	"/get_group_messages <token> <group_id>, /get_private_messages <token> <user>, " +
	"/delete_group_messages <token> <group_id>, /delete_private_messages <token> <user>, " +
	"/send_friend_request <token> <user> [message], /accept_friend_request <token> <user>, " +
	"/reject_friend_request <token> <user>, /list_friends <token>, /received_friend_requests <token>, " +
	"/sent_friend_requests <token>, /help, /quit"
