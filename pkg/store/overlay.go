package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"parley/pkg/models"
	"parley/pkg/telemetry"
)

// PutOverlay stores the overlay for a message id, replacing any previous
// value (last writer wins). Callers fold the edit history into ov before
// calling.
func (s *Store) PutOverlay(conv, msgID string, ov models.Overlay) error {
	if !s.Ready() {
		return ErrClosed
	}
	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}
	if err := s.db.Set(overlayKey(conv, msgID), data, pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("overlay_put").Inc()
		return fmt.Errorf("put overlay %s: %w", msgID, err)
	}
	return nil
}

// GetOverlay fetches one overlay. Returns ErrNotFound when none exists.
func (s *Store) GetOverlay(conv, msgID string) (models.Overlay, error) {
	if !s.Ready() {
		return models.Overlay{}, ErrClosed
	}
	v, closer, err := s.db.Get(overlayKey(conv, msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Overlay{}, fmt.Errorf("overlay %s: %w", msgID, ErrNotFound)
		}
		telemetry.StoreErrors.WithLabelValues("overlay_get").Inc()
		return models.Overlay{}, fmt.Errorf("get overlay %s: %w", msgID, err)
	}
	defer closer.Close()
	var ov models.Overlay
	if err := json.Unmarshal(v, &ov); err != nil {
		return models.Overlay{}, fmt.Errorf("invalid overlay JSON: %w", err)
	}
	return ov, nil
}

// GetOverlays fetches overlays for the given message ids. Absent ids are
// simply omitted from the result.
func (s *Store) GetOverlays(conv string, msgIDs []string) (map[string]models.Overlay, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	out := make(map[string]models.Overlay, len(msgIDs))
	for _, id := range msgIDs {
		ov, err := s.GetOverlay(conv, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = ov
	}
	return out, nil
}
