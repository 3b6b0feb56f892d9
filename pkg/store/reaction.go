package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"parley/pkg/models"
	"parley/pkg/telemetry"
)

// SetReaction applies the toggle rule for one reactor on one message and
// returns the updated set. An empty emoji, or the emoji the reactor already
// has, clears the reactor's entry; a different emoji replaces it. When the
// last entry is cleared the whole per-message key is deleted so no empty
// maps persist.
func (s *Store) SetReaction(conv, msgID, reactorID string, r models.Reaction) (models.ReactionSet, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.getReactionsLocked(conv, msgID)
	if err != nil {
		return nil, err
	}
	current, has := set[reactorID]
	if r.Emoji == "" || (has && current.Emoji == r.Emoji) {
		delete(set, reactorID)
	} else {
		set[reactorID] = r
	}

	key := reactionKey(conv, msgID)
	if len(set) == 0 {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			telemetry.StoreErrors.WithLabelValues("reaction_set").Inc()
			return nil, fmt.Errorf("clear reactions %s: %w", msgID, err)
		}
		return set, nil
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshal reactions: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("reaction_set").Inc()
		return nil, fmt.Errorf("set reactions %s: %w", msgID, err)
	}
	return set, nil
}

// GetReactions returns the reaction set for one message (empty when none).
func (s *Store) GetReactions(conv, msgID string) (models.ReactionSet, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getReactionsLocked(conv, msgID)
}

// GetReactionSets returns reaction sets for the given message ids. Messages
// with no reactions are omitted.
func (s *Store) GetReactionSets(conv string, msgIDs []string) (map[string]models.ReactionSet, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.ReactionSet, len(msgIDs))
	for _, id := range msgIDs {
		set, err := s.getReactionsLocked(conv, id)
		if err != nil {
			return nil, err
		}
		if len(set) > 0 {
			out[id] = set
		}
	}
	return out, nil
}

func (s *Store) getReactionsLocked(conv, msgID string) (models.ReactionSet, error) {
	v, closer, err := s.db.Get(reactionKey(conv, msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.ReactionSet{}, nil
		}
		telemetry.StoreErrors.WithLabelValues("reaction_get").Inc()
		return nil, fmt.Errorf("get reactions %s: %w", msgID, err)
	}
	defer closer.Close()
	var set models.ReactionSet
	if err := json.Unmarshal(v, &set); err != nil {
		return nil, fmt.Errorf("invalid reactions JSON: %w", err)
	}
	if set == nil {
		set = models.ReactionSet{}
	}
	return set, nil
}
