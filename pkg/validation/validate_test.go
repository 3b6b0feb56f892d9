package validation

import (
	"strings"
	"testing"
)

// TestConversationID accepts plain and direct ids and rejects malformed
// ones.
func TestConversationID(t *testing.T) {
	for _, ok := range []string{"room", "team-42", "dm:ann|bob"} {
		if err := ConversationID(ok); err != nil {
			t.Fatalf("ConversationID(%q): %v", ok, err)
		}
	}
	bad := []string{
		"",
		"has space",
		"ctrl\x00char",
		"dm:ann",
		"dm:ann|ann",
		strings.Repeat("x", 300),
	}
	for _, id := range bad {
		if err := ConversationID(id); err == nil {
			t.Fatalf("ConversationID(%q) accepted", id)
		}
	}
}

// TestEmoji allows clears and short sequences, rejects junk.
func TestEmoji(t *testing.T) {
	for _, ok := range []string{"", "👍", "❤️‍🔥"} {
		if err := Emoji(ok); err != nil {
			t.Fatalf("Emoji(%q): %v", ok, err)
		}
	}
	if err := Emoji(string([]byte{0xff, 0xfe})); err == nil {
		t.Fatalf("invalid utf-8 accepted")
	}
	if err := Emoji(strings.Repeat("👍", 20)); err == nil {
		t.Fatalf("oversized emoji accepted")
	}
}

// TestSessionID bounds the resumable session id.
func TestSessionID(t *testing.T) {
	if err := SessionID("tab-1"); err != nil {
		t.Fatalf("SessionID: %v", err)
	}
	for _, bad := range []string{"", strings.Repeat("x", 65), "has space", "ctl\x00"} {
		if err := SessionID(bad); err == nil {
			t.Fatalf("SessionID(%q) accepted", bad)
		}
	}
}

// TestMessageID bounds the id.
func TestMessageID(t *testing.T) {
	if err := MessageID("abc-123"); err != nil {
		t.Fatalf("MessageID: %v", err)
	}
	if err := MessageID(""); err == nil {
		t.Fatalf("empty id accepted")
	}
	if err := MessageID(strings.Repeat("x", 65)); err == nil {
		t.Fatalf("oversized id accepted")
	}
}
