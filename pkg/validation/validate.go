// Package validation checks client-supplied identifiers and small fields
// at the transport boundary, before they reach the service core.
package validation

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"parley/pkg/models"
)

const (
	maxConversationID = 256
	maxMessageID      = 64
	maxSessionID      = 64
	maxEmojiBytes     = 64
	maxEmojiRunes     = 16
	maxName           = 128
)

// ConversationID rejects empty, oversized or control-character ids, and
// requires direct ids to parse into exactly two participants.
func ConversationID(id string) error {
	if id == "" {
		return errors.New("conversation id required")
	}
	if len(id) > maxConversationID {
		return fmt.Errorf("conversation id exceeds %d bytes", maxConversationID)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("conversation id contains whitespace or control characters")
		}
	}
	if models.IsDirect(id) && models.DirectParticipants(id) == nil {
		return errors.New("direct conversation id must name exactly two participants")
	}
	return nil
}

// MessageID rejects empty or oversized message ids.
func MessageID(id string) error {
	if id == "" {
		return errors.New("message id required")
	}
	if len(id) > maxMessageID {
		return fmt.Errorf("message id exceeds %d bytes", maxMessageID)
	}
	return nil
}

// SessionID bounds a client-supplied resumable session id.
func SessionID(id string) error {
	if id == "" {
		return errors.New("session id required")
	}
	if len(id) > maxSessionID {
		return fmt.Errorf("session id exceeds %d bytes", maxSessionID)
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("session id contains whitespace or control characters")
		}
	}
	return nil
}

// Emoji accepts the empty string (a clear) and otherwise bounds the
// reaction to a short valid UTF-8 sequence.
func Emoji(e string) error {
	if e == "" {
		return nil
	}
	if !utf8.ValidString(e) {
		return errors.New("emoji is not valid utf-8")
	}
	if len(e) > maxEmojiBytes || utf8.RuneCountInString(e) > maxEmojiRunes {
		return errors.New("emoji too long")
	}
	return nil
}

// DisplayName bounds a user-visible name.
func DisplayName(n string) error {
	if n == "" {
		return errors.New("name required")
	}
	if len(n) > maxName {
		return fmt.Errorf("name exceeds %d bytes", maxName)
	}
	return nil
}
