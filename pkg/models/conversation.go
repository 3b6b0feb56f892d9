package models

import (
	"fmt"
	"sort"
	"strings"
)

// DirectPrefix marks canonical two-party conversation ids.
const DirectPrefix = "dm:"

// Conversation is the metadata the core keeps about a thread. Group
// conversations are owned by the directory collaborator; direct ones are
// created implicitly on first append.
type Conversation struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Direct    bool   `json:"direct,omitempty"`
}

// DirectID builds the canonical id for a two-party conversation:
// participants lower-cased, sorted, joined as dm:<a>|<b>. Identical or
// empty participants are invalid.
func DirectID(a, b string) (string, error) {
	pa := strings.ToLower(strings.TrimSpace(a))
	pb := strings.ToLower(strings.TrimSpace(b))
	if pa == "" || pb == "" {
		return "", fmt.Errorf("direct conversation requires two participants")
	}
	if pa == pb {
		return "", fmt.Errorf("direct conversation participants must be distinct")
	}
	parts := []string{pa, pb}
	sort.Strings(parts)
	return DirectPrefix + parts[0] + "|" + parts[1], nil
}

// IsDirect reports whether id names a direct conversation.
func IsDirect(id string) bool { return strings.HasPrefix(id, DirectPrefix) }

// DirectParticipants parses a canonical direct id back into its two
// participants. It returns nil for anything that is not a valid direct id.
func DirectParticipants(id string) []string {
	if !IsDirect(id) {
		return nil
	}
	rest := strings.TrimPrefix(id, DirectPrefix)
	raw := strings.Split(rest, "|")
	parts := make([]string, 0, 2)
	for _, p := range raw {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) != 2 || parts[0] == parts[1] {
		return nil
	}
	sort.Strings(parts)
	return parts
}
