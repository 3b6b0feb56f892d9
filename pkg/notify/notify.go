// Package notify batches membership churn into periodic system notices so
// a burst of joins or leaves produces one line instead of many.
package notify

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/pkg/clock"
	"parley/pkg/logger"
	"parley/pkg/telemetry"
)

// Kind selects the notice verb.
type Kind string

const (
	KindJoin  Kind = "join"
	KindLeave Kind = "leave"
)

// Sink receives a flushed notice for a conversation. The aggregator calls
// it outside its own lock.
type Sink func(conv, text string) error

type bucketKey struct {
	conv string
	kind Kind
}

type bucket struct {
	names []string
	seen  map[string]struct{}
	timer clock.Timer
}

// Aggregator collects join/leave names per conversation and flushes each
// bucket once its window elapses. A name appears at most once per bucket
// no matter how many times it churns inside the window.
type Aggregator struct {
	clk    clock.Clock
	window time.Duration
	sink   Sink

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	closed  bool
}

const defaultWindow = 5 * time.Second

func New(clk clock.Clock, window time.Duration, sink Sink) *Aggregator {
	if window <= 0 {
		window = defaultWindow
	}
	return &Aggregator{
		clk:     clk,
		window:  window,
		sink:    sink,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Add enqueues a name for the conversation's pending notice. The first add
// for an idle bucket arms its flush timer.
func (a *Aggregator) Add(conv string, kind Kind, name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	key := bucketKey{conv: conv, kind: kind}
	b, ok := a.buckets[key]
	if !ok {
		b = &bucket{seen: make(map[string]struct{})}
		a.buckets[key] = b
		b.timer = a.clk.AfterFunc(a.window, func() { a.flush(key) })
	}
	if _, dup := b.seen[name]; dup {
		return
	}
	b.seen[name] = struct{}{}
	b.names = append(b.names, name)
}

func (a *Aggregator) flush(key bucketKey) {
	a.mu.Lock()
	b, ok := a.buckets[key]
	if ok {
		delete(a.buckets, key)
	}
	a.mu.Unlock()
	if !ok || len(b.names) == 0 {
		return
	}
	a.emit(key, b.names)
}

func (a *Aggregator) emit(key bucketKey, names []string) {
	text := FormatNotice(names, key.kind)
	telemetry.AggregatorFlushes.WithLabelValues(string(key.kind)).Inc()
	if err := a.sink(key.conv, text); err != nil {
		// A failed notice is not worth failing the caller over.
		logger.Warn("notice_flush_failed", "conversation", key.conv, "kind", string(key.kind), "error", err.Error())
	}
}

// Close flushes every pending bucket immediately and stops accepting adds.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pending := a.buckets
	a.buckets = make(map[bucketKey]*bucket)
	a.mu.Unlock()
	for key, b := range pending {
		if b.timer != nil {
			b.timer.Stop()
		}
		if len(b.names) > 0 {
			a.emit(key, b.names)
		}
	}
}

// FormatNotice renders the batched names with an Oxford-free list:
// "A joined", "A and B joined", "A, B and C joined".
func FormatNotice(names []string, kind Kind) string {
	verb := "joined"
	if kind == KindLeave {
		verb = "left"
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s %s", names[0], verb)
	case 2:
		return fmt.Sprintf("%s and %s %s", names[0], names[1], verb)
	default:
		head := strings.Join(names[:len(names)-1], ", ")
		return fmt.Sprintf("%s and %s %s", head, names[len(names)-1], verb)
	}
}
