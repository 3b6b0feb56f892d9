package models

// Reaction is one reactor's emoji on a message. A reactor holds at most one
// reaction per message.
type Reaction struct {
	Emoji     string `json:"emoji"`
	ReactedAt int64  `json:"at"`
	Name      string `json:"username,omitempty"`
}

// ReactionSet maps reactor identity id to that reactor's current reaction.
type ReactionSet map[string]Reaction

// MostRecent identifies the newest reaction in a set.
type MostRecent struct {
	ReactorID string `json:"userId"`
	Name      string `json:"username,omitempty"`
	Emoji     string `json:"emoji"`
	ReactedAt int64  `json:"at"`
}

// ReactionSummary is the compact view broadcast alongside reaction updates.
type ReactionSummary struct {
	TotalCount int         `json:"totalCount"`
	MostRecent *MostRecent `json:"mostRecent"`
}

// SummarizeReactions picks the entry with the maximum ReactedAt. Timestamp
// ties break toward the smallest reactor id so the result is deterministic
// regardless of map iteration order.
func SummarizeReactions(set ReactionSet) ReactionSummary {
	sum := ReactionSummary{TotalCount: len(set)}
	for id, r := range set {
		if sum.MostRecent == nil ||
			r.ReactedAt > sum.MostRecent.ReactedAt ||
			(r.ReactedAt == sum.MostRecent.ReactedAt && id < sum.MostRecent.ReactorID) {
			sum.MostRecent = &MostRecent{
				ReactorID: id,
				Name:      r.Name,
				Emoji:     r.Emoji,
				ReactedAt: r.ReactedAt,
			}
		}
	}
	return sum
}
