// Package store persists conversation logs, overlays and reactions in a
// single Pebble database. Keys are grouped under a per-conversation prefix
// so a purge removes everything for a conversation in one range delete:
//
//	conv:<id>:msg:<token>   immutable log entries (token orders them)
//	conv:<id>:ovl:<msgID>   edit/delete overlays
//	conv:<id>:rcn:<msgID>   reaction sets
//
// The id is hex-escaped in keys (':' and '~'), so ids containing colons,
// direct ids included, cannot collide with another conversation's prefix.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
)

// ErrClosed is returned when the store is used before Open or after Close.
var ErrClosed = errors.New("store not open")

// ErrNotFound is returned when a looked-up key is absent.
var ErrNotFound = errors.New("not found")

// Options tune per-conversation log caps.
type Options struct {
	// GroupCap bounds group conversation logs; DirectCap bounds direct
	// ones. Zero means the default of 100.
	GroupCap  int
	DirectCap int
}

const defaultCap = 100

// Store owns the Pebble handle plus the in-memory retained-entry counts
// used for cap enforcement. Construct one per process and pass it by
// reference; tests open isolated instances on temp dirs.
type Store struct {
	db   *pebble.DB
	path string
	opts Options

	// mu serializes appends and reaction read-modify-writes. The atomic
	// append+trim step under this lock is the serialization point for
	// message order within a conversation.
	mu     sync.Mutex
	seq    uint64
	counts map[string]int
}

// Open opens (or creates) the Pebble database at path.
func Open(path string, opts Options) (*Store, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	if opts.GroupCap <= 0 {
		opts.GroupCap = defaultCap
	}
	if opts.DirectCap <= 0 {
		opts.DirectCap = defaultCap
	}
	return &Store{db: db, path: path, opts: opts, counts: make(map[string]int)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return nil
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool { return s != nil && s.db != nil }

// escapeConvID makes a conversation id safe to embed in keys. ':' is the
// key segment separator, so it and the escape byte itself are hex-escaped;
// distinct ids always land on distinct key prefixes (direct ids contain
// ':' and would otherwise collide with the namespace structure).
func escapeConvID(conv string) string {
	if !strings.ContainsAny(conv, ":~") {
		return conv
	}
	out := make([]byte, 0, len(conv)+4)
	for i := 0; i < len(conv); i++ {
		switch c := conv[i]; c {
		case ':', '~':
			out = append(out, fmt.Sprintf("~%02x", c)...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

func unescapeConvID(esc string) string {
	if !strings.Contains(esc, "~") {
		return esc
	}
	out := make([]byte, 0, len(esc))
	for i := 0; i < len(esc); i++ {
		if esc[i] == '~' && i+2 < len(esc) {
			if n, err := strconv.ParseUint(esc[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(n))
				i += 2
				continue
			}
		}
		out = append(out, esc[i])
	}
	return string(out)
}

func convPrefix(conv string) []byte { return []byte("conv:" + escapeConvID(conv) + ":") }

func msgPrefix(conv string) []byte { return []byte("conv:" + escapeConvID(conv) + ":msg:") }

func msgKey(conv, token string) []byte {
	return []byte("conv:" + escapeConvID(conv) + ":msg:" + token)
}

func overlayKey(conv, msgID string) []byte {
	return []byte("conv:" + escapeConvID(conv) + ":ovl:" + msgID)
}

func reactionKey(conv, msgID string) []byte {
	return []byte("conv:" + escapeConvID(conv) + ":rcn:" + msgID)
}

// prefixEnd returns the exclusive upper bound for iterating all keys that
// start with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// tokenFromKey strips the msg prefix from a full key.
func tokenFromKey(conv string, key []byte) string {
	return strings.TrimPrefix(string(key), string(msgPrefix(conv)))
}

// ListConversations scans for every conversation id with at least one key
// in the store. Intended for the retention sweep, not hot paths.
func (s *Store) ListConversations() ([]string, error) {
	if !s.Ready() {
		return nil, ErrClosed
	}
	prefix := []byte("conv:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer iter.Close()
	var out []string
	seen := map[string]struct{}{}
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		rest := strings.TrimPrefix(k, "conv:")
		// the escaped id never contains ':', so it runs to the first one
		idx := strings.IndexByte(rest, ':')
		if idx < 0 {
			continue
		}
		id := unescapeConvID(rest[:idx])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, iter.Error()
}

func (s *Store) capFor(conv string) int {
	if strings.HasPrefix(conv, "dm:") {
		return s.opts.DirectCap
	}
	return s.opts.GroupCap
}
