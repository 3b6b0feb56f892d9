package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/telemetry"
)

// Append assigns the next position token, writes the entry and enforces the
// conversation cap in the same atomic batch. A nil error is the durability
// acknowledgment; failures surface to the caller so it can retry or report.
func (s *Store) Append(conv string, e models.Entry) (string, error) {
	if !s.Ready() {
		return "", ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC().UnixNano()
	if e.TS != 0 {
		ts = e.TS
	}
	s.seq++
	token := fmt.Sprintf("%020d-%06d", ts, s.seq)
	e.Conv = conv
	e.TS = ts
	e.Pos = token

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}

	count, err := s.countLocked(conv)
	if err != nil {
		return "", err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(msgKey(conv, token), data, nil); err != nil {
		return "", fmt.Errorf("batch set: %w", err)
	}

	// trim-to-last-N in the same batch so the log never exceeds its cap
	// even under concurrent writers
	capN := s.capFor(conv)
	trimmed := 0
	if count+1 > capN {
		surplus := count + 1 - capN
		iter, ierr := s.logIter(conv)
		if ierr != nil {
			return "", ierr
		}
		for iter.First(); iter.Valid() && trimmed < surplus; iter.Next() {
			if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				iter.Close()
				return "", fmt.Errorf("batch delete: %w", err)
			}
			trimmed++
		}
		if err := iter.Close(); err != nil {
			return "", fmt.Errorf("trim scan: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("append").Inc()
		logger.Error("append_failed", "conv", conv, "token", token, "error", err)
		return "", fmt.Errorf("append commit: %w", err)
	}
	s.counts[conv] = count + 1 - trimmed
	telemetry.Appends.WithLabelValues(string(e.Kind)).Inc()
	if trimmed > 0 {
		telemetry.TrimmedEntries.Add(float64(trimmed))
	}
	logger.Debug("entry_appended", "conv", conv, "token", token, "msg_id", e.ID, "trimmed", trimmed)
	return token, nil
}

// Latest returns up to n retained entries, oldest first. The underlying
// scan runs newest to oldest and is reversed before returning.
func (s *Store) Latest(conv string, n int) ([]models.Entry, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	iter, err := s.logIter(conv)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]models.Entry, 0, min(n, 128))
	for iter.Last(); iter.Valid() && len(out) < n; iter.Prev() {
		e, derr := decodeEntry(iter.Value())
		if derr != nil {
			return nil, derr
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		telemetry.StoreErrors.WithLabelValues("latest").Inc()
		return nil, fmt.Errorf("latest scan: %w", err)
	}
	reverseEntries(out)
	return out, nil
}

// Range returns up to limit entries strictly older than the before token
// (exclusive), ascending. An empty before starts from the newest entry.
func (s *Store) Range(conv, before string, limit int) ([]models.Entry, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	lower := msgPrefix(conv)
	upper := prefixEnd(lower)
	if before != "" {
		// keys below the cursor key, exclusive
		upper = msgKey(conv, before)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("range iter: %w", err)
	}
	defer iter.Close()

	out := make([]models.Entry, 0, min(limit, 128))
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		e, derr := decodeEntry(iter.Value())
		if derr != nil {
			return nil, derr
		}
		out = append(out, e)
	}
	if err := iter.Error(); err != nil {
		telemetry.StoreErrors.WithLabelValues("range").Inc()
		return nil, fmt.Errorf("range scan: %w", err)
	}
	reverseEntries(out)
	return out, nil
}

// FindEntry locates a retained entry by message id, scanning newest first.
// Returns ErrNotFound when the id is absent (or already trimmed).
func (s *Store) FindEntry(conv, msgID string) (models.Entry, error) {
	if !s.Ready() {
		return models.Entry{}, ErrClosed
	}
	iter, err := s.logIter(conv)
	if err != nil {
		return models.Entry{}, err
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		e, derr := decodeEntry(iter.Value())
		if derr != nil {
			return models.Entry{}, derr
		}
		if e.ID == msgID {
			return e, nil
		}
	}
	if err := iter.Error(); err != nil {
		return models.Entry{}, fmt.Errorf("find scan: %w", err)
	}
	return models.Entry{}, fmt.Errorf("message %s in %s: %w", msgID, conv, ErrNotFound)
}

// Purge removes every key belonging to the conversation (log, overlays,
// reactions) in one range delete. The removal is never partial.
func (s *Store) Purge(conv string) error {
	if !s.Ready() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := convPrefix(conv)
	if err := s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("purge").Inc()
		return fmt.Errorf("purge %s: %w", conv, err)
	}
	delete(s.counts, conv)
	logger.Info("conversation_purged", "conv", conv)
	return nil
}

// TrimToCap re-enforces the cap outside the append path. Used by the
// retention sweep; returns the number of entries removed.
func (s *Store) TrimToCap(conv string) (int, error) {
	if !s.Ready() {
		return 0, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := s.countLocked(conv)
	if err != nil {
		return 0, err
	}
	capN := s.capFor(conv)
	if count <= capN {
		return 0, nil
	}
	surplus := count - capN
	iter, err := s.logIter(conv)
	if err != nil {
		return 0, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	trimmed := 0
	for iter.First(); iter.Valid() && trimmed < surplus; iter.Next() {
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			iter.Close()
			return 0, fmt.Errorf("batch delete: %w", err)
		}
		trimmed++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("trim scan: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		telemetry.StoreErrors.WithLabelValues("trim").Inc()
		return 0, fmt.Errorf("trim commit: %w", err)
	}
	s.counts[conv] = count - trimmed
	telemetry.TrimmedEntries.Add(float64(trimmed))
	return trimmed, nil
}

// NewestTS returns the append timestamp of the newest retained entry, or
// zero when the log is empty.
func (s *Store) NewestTS(conv string) (int64, error) {
	if !s.Ready() {
		return 0, ErrClosed
	}
	iter, err := s.logIter(conv)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if iter.Last(); !iter.Valid() {
		return 0, iter.Error()
	}
	e, err := decodeEntry(iter.Value())
	if err != nil {
		return 0, err
	}
	return e.TS, nil
}

func (s *Store) logIter(conv string) (*pebble.Iterator, error) {
	lower := msgPrefix(conv)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: prefixEnd(lower)})
	if err != nil {
		return nil, fmt.Errorf("log iter: %w", err)
	}
	return iter, nil
}

// countLocked returns the retained count for conv, scanning once to seed
// the in-memory counter after a cold start.
func (s *Store) countLocked(conv string) (int, error) {
	if c, ok := s.counts[conv]; ok {
		return c, nil
	}
	iter, err := s.logIter(conv)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	c := 0
	for iter.First(); iter.Valid(); iter.Next() {
		c++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	s.counts[conv] = c
	return c, nil
}

func decodeEntry(v []byte) (models.Entry, error) {
	var e models.Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return models.Entry{}, fmt.Errorf("invalid entry JSON: %w", err)
	}
	return e, nil
}

func reverseEntries(es []models.Entry) {
	for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
		es[i], es[j] = es[j], es[i]
	}
}
