package services

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/database"
	"github.com/ferrochat/ferrochat/internal/models"
	"github.com/ferrochat/ferrochat/pkg/crypto"
)

// RenderedMessage is one decrypted message ready for display.
type RenderedMessage struct {
	SentAt int64
	Sender string
	Text   string
}

// decryptionPlaceholder replaces a message whose envelope fails to
// authenticate. Rendering stays total: one bad row never aborts a batch.
const decryptionPlaceholder = "[DECRYPTION FAILED]"

// SendPrivateMessage persists a message in the symmetric 1:1 chat and
// publishes a real-time event towards the recipient.
func SendPrivateMessage(senderID, recipientUsername, text string) error {
	if err := checkLength(text); err != nil {
		return err
	}
	recipient, err := FindUserByUsername(recipientUsername)
	if err != nil {
		return err
	}

	chatID := crypto.PrivateChatID(senderID, recipient.ID)
	stored, err := sealForChat(text, []string{senderID, recipient.ID})
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if _, err := database.DB.Exec(database.Rebind(
		`INSERT INTO encrypted_messages (chat_id, sender_id, message, sent_at) VALUES (?, ?, ?, ?)`),
		chatID, senderID, stored, now); err != nil {
		return err
	}

	publishEvent("private:"+recipient.ID, models.WebSocketMessage{
		ID:          uuid.New().String(),
		MessageType: models.TypePrivateMessage,
		Sender:      GetUsernameByID(senderID),
		Target:      recipient.ID,
		Content:     text,
		Timestamp:   now,
	})
	return nil
}

// SendGroupMessage persists a message in the group chat and publishes a
// real-time event on the group channel. The sender must be a member.
func SendGroupMessage(senderID, groupID, text string) error {
	if err := checkLength(text); err != nil {
		return err
	}
	if err := assertGroupExists(groupID); err != nil {
		return err
	}
	if err := assertMember(groupID, senderID); err != nil {
		return err
	}

	members, err := GroupMembers(groupID)
	if err != nil {
		return err
	}
	stored, err := sealForChat(text, members)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	if _, err := database.DB.Exec(database.Rebind(
		`INSERT INTO encrypted_messages (chat_id, sender_id, message, sent_at) VALUES (?, ?, ?, ?)`),
		crypto.GroupChatID(groupID), senderID, stored, now); err != nil {
		return err
	}

	publishEvent("group:"+groupID, models.WebSocketMessage{
		ID:          uuid.New().String(),
		MessageType: models.TypeGroupMessage,
		Sender:      GetUsernameByID(senderID),
		Target:      groupID,
		Content:     text,
		Timestamp:   now,
	})
	return nil
}

// GetPrivateMessages returns the caller's 1:1 history with the named peer
// in (sent_at, id) order, decrypted.
func GetPrivateMessages(actorID, peerUsername string) ([]RenderedMessage, error) {
	peer, err := FindUserByUsername(peerUsername)
	if err != nil {
		return nil, err
	}
	key := chatKey([]string{actorID, peer.ID})
	return readChat(crypto.PrivateChatID(actorID, peer.ID), key)
}

// GetGroupMessages returns the group history for a member, decrypted with
// the key derived over the current member set.
func GetGroupMessages(actorID, groupID string) ([]RenderedMessage, error) {
	if err := assertGroupExists(groupID); err != nil {
		return nil, err
	}
	if err := assertMember(groupID, actorID); err != nil {
		return nil, err
	}
	members, err := GroupMembers(groupID)
	if err != nil {
		return nil, err
	}
	return readChat(crypto.GroupChatID(groupID), chatKey(members))
}

// DeletePrivateMessages removes the whole 1:1 history with the named peer.
func DeletePrivateMessages(actorID, peerUsername string) error {
	peer, err := FindUserByUsername(peerUsername)
	if err != nil {
		return err
	}
	_, err = database.DB.Exec(database.Rebind(
		`DELETE FROM encrypted_messages WHERE chat_id = ?`),
		crypto.PrivateChatID(actorID, peer.ID))
	return err
}

// DeleteGroupMessages removes the whole group history. Member only.
func DeleteGroupMessages(actorID, groupID string) error {
	if err := assertGroupExists(groupID); err != nil {
		return err
	}
	if err := assertMember(groupID, actorID); err != nil {
		return err
	}
	_, err := database.DB.Exec(database.Rebind(
		`DELETE FROM encrypted_messages WHERE chat_id = ?`), crypto.GroupChatID(groupID))
	return err
}

func readChat(chatID string, key []byte) ([]RenderedMessage, error) {
	rows, err := database.DB.Query(database.Rebind(
		`SELECT em.sender_id, COALESCE(u.username, em.sender_id), em.message, em.sent_at
		 FROM encrypted_messages em LEFT JOIN users u ON u.id = em.sender_id
		 WHERE em.chat_id = ? ORDER BY em.sent_at ASC, em.id ASC`), chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RenderedMessage
	for rows.Next() {
		var senderID, senderName, stored string
		var sentAt int64
		if err := rows.Scan(&senderID, &senderName, &stored, &sentAt); err != nil {
			return nil, err
		}
		out = append(out, RenderedMessage{
			SentAt: sentAt,
			Sender: senderName,
			Text:   openStored(stored, key, chatID),
		})
	}
	return out, rows.Err()
}

// sealForChat encrypts the text for the participant set when payload
// encryption is enabled, otherwise stores it as-is.
func sealForChat(text string, participants []string) (string, error) {
	key := chatKey(participants)
	if key == nil {
		return text, nil
	}
	return crypto.Encrypt(text, key)
}

// openStored decrypts a stored message, tolerating legacy plaintext rows.
func openStored(stored string, key []byte, chatID string) string {
	if key == nil {
		return stored
	}
	plain, err := crypto.Decrypt(stored, key)
	if err != nil {
		log.Warn().Str("chat_id", chatID).Msg("message failed to decrypt")
		return decryptionPlaceholder
	}
	return plain
}

// chatKey returns the derived key for the participant set, or nil when
// payload encryption is disabled.
func chatKey(participants []string) []byte {
	if cfg == nil || !cfg.EnableEncryption || cfg.EncryptionMasterKey == "" {
		return nil
	}
	return crypto.DeriveChatKey(participants, cfg.EncryptionMasterKey)
}

func checkLength(text string) error {
	if utf8.RuneCountInString(text) > cfg.MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
