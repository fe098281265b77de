// Package crypto implements the message-payload encryption scheme: a
// deterministic per-chat key derived from the participant set and a master
// key, and an AES-256-GCM envelope stored alongside its nonce.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned when an envelope parses but does not
// authenticate under the derived key.
var ErrDecryptionFailed = errors.New("decryption failed")

const chatKeyLength = 32

// envelope is the stored form of an encrypted message.
type envelope struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// DeriveChatKey derives the 32-byte chat key for a set of participants.
// Participants are sorted before mixing, so every permutation of the same
// set yields the same key on every node.
func DeriveChatKey(participants []string, masterKey string) []byte {
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)

	info := []byte("chat:" + strings.Join(sorted, ","))
	r := hkdf.New(sha256.New, []byte(masterKey), nil, info)

	key := make([]byte, chatKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can always produce 32 bytes.
		panic(err)
	}
	return key
}

// PrivateChatID returns the symmetric chat identifier for a 1:1 chat.
// The two ids are ordered lexicographically so both peers derive the same id.
func PrivateChatID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return "private:" + userA + "-" + userB
}

// GroupChatID returns the chat identifier for a group.
func GroupChatID(groupID string) string {
	return "group:" + groupID
}

// Encrypt seals plaintext under key with AES-256-GCM and a random nonce,
// returning the JSON envelope stored in the database.
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	env := envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decrypt opens a stored message. Strings that do not parse as an envelope
// are legacy plaintext rows and are returned unchanged. A parsed envelope
// that fails to authenticate yields ErrDecryptionFailed.
func Decrypt(stored string, key []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(stored), &env); err != nil || env.Ciphertext == "" || env.Nonce == "" {
		return stored, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
