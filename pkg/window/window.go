// Package window builds the merged read views over the log, overlay and
// reaction stores: the cached "latest N" feed and backward pagination.
package window

import (
	"fmt"
	"sync"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/telemetry"
)

// Reader serves merged conversation views. The latest window is cached per
// conversation; refreshes build a fresh slice and swap it in (copy-on-write)
// so concurrent readers always see a consistent, possibly slightly stale,
// snapshot.
type Reader struct {
	st   *store.Store
	size int

	mu     sync.RWMutex
	cached map[string][]models.View
}

// New returns a Reader serving windows of the given size (default 50).
func New(st *store.Store, size int) *Reader {
	if size <= 0 {
		size = 50
	}
	return &Reader{st: st, size: size, cached: make(map[string][]models.View)}
}

// Size returns the configured window length.
func (r *Reader) Size() int { return r.size }

// Latest returns the merged window for conv, serving the cached copy when
// present. When the store is unreachable and a cached window exists, the
// stale copy is returned instead of the error.
func (r *Reader) Latest(conv string) ([]models.View, error) {
	r.mu.RLock()
	cached, ok := r.cached[conv]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}
	views, err := r.Refresh(conv)
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Refresh rebuilds the window for conv from the stores and swaps it into
// the cache. On store failure any previously cached window is kept and
// returned so readers degrade instead of erroring.
func (r *Reader) Refresh(conv string) ([]models.View, error) {
	views, err := r.load(conv, r.size)
	if err != nil {
		r.mu.RLock()
		cached, ok := r.cached[conv]
		r.mu.RUnlock()
		if ok {
			telemetry.WindowStaleReads.Inc()
			logger.Warn("window_refresh_degraded", "conv", conv, "error", err)
			return cached, nil
		}
		return nil, err
	}
	r.mu.Lock()
	r.cached[conv] = views
	r.mu.Unlock()
	telemetry.WindowRefreshes.Inc()
	return views, nil
}

// Evict drops the cached window, e.g. after a purge.
func (r *Reader) Evict(conv string) {
	r.mu.Lock()
	delete(r.cached, conv)
	r.mu.Unlock()
}

// load fetches the newest n entries and merges overlays and reactions.
func (r *Reader) load(conv string, n int) ([]models.View, error) {
	entries, err := r.st.Latest(conv, n)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	return r.merge(conv, entries)
}

func (r *Reader) merge(conv string, entries []models.Entry) ([]models.View, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	overlays, err := r.st.GetOverlays(conv, ids)
	if err != nil {
		return nil, fmt.Errorf("merge overlays: %w", err)
	}
	reactions, err := r.st.GetReactionSets(conv, ids)
	if err != nil {
		return nil, fmt.Errorf("merge reactions: %w", err)
	}
	views := make([]models.View, len(entries))
	for i, e := range entries {
		var ovp *models.Overlay
		if ov, ok := overlays[e.ID]; ok {
			o := ov
			ovp = &o
		}
		views[i] = models.Merge(e, ovp, reactions[e.ID])
	}
	return views, nil
}
