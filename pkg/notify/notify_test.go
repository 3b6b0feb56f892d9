package notify

import (
	"sync"
	"testing"
	"time"

	"parley/pkg/clock"
)

type sinkRec struct {
	mu    sync.Mutex
	lines []string
	convs []string
}

func (s *sinkRec) sink(conv, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = append(s.convs, conv)
	s.lines = append(s.lines, text)
	return nil
}

func (s *sinkRec) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// TestBurstCollapsesToOneNotice adds three joins inside the window and
// expects a single combined line after the flush.
func TestBurstCollapsesToOneNotice(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	clk.Advance(time.Second)
	a.Add("room", KindJoin, "Bob")
	a.Add("room", KindJoin, "Cid")

	if len(rec.snapshot()) != 0 {
		t.Fatalf("flushed before the window elapsed")
	}
	clk.Advance(4 * time.Second)
	lines := rec.snapshot()
	if len(lines) != 1 {
		t.Fatalf("got %d notices, want 1: %v", len(lines), lines)
	}
	if lines[0] != "Ann, Bob and Cid joined" {
		t.Fatalf("unexpected notice %q", lines[0])
	}
}

// TestDuplicateNamesCollapse verifies a name churning repeatedly inside
// one window appears once.
func TestDuplicateNamesCollapse(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	a.Add("room", KindJoin, "Ann")
	a.Add("room", KindJoin, "Ann")
	clk.Advance(5 * time.Second)

	lines := rec.snapshot()
	if len(lines) != 1 || lines[0] != "Ann joined" {
		t.Fatalf("unexpected notices %v", lines)
	}
}

// TestJoinAndLeaveBucketsAreSeparate flushes independent notices per kind.
func TestJoinAndLeaveBucketsAreSeparate(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	a.Add("room", KindLeave, "Bob")
	clk.Advance(5 * time.Second)

	lines := rec.snapshot()
	if len(lines) != 2 {
		t.Fatalf("got %d notices, want 2: %v", len(lines), lines)
	}
	found := map[string]bool{}
	for _, l := range lines {
		found[l] = true
	}
	if !found["Ann joined"] || !found["Bob left"] {
		t.Fatalf("unexpected notices %v", lines)
	}
}

// TestBucketsScopedPerConversation keeps conversations independent.
func TestBucketsScopedPerConversation(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	a.Add("lobby", KindJoin, "Bob")
	clk.Advance(5 * time.Second)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.lines) != 2 {
		t.Fatalf("got %d notices, want 2", len(rec.lines))
	}
	for i, conv := range rec.convs {
		if conv == "room" && rec.lines[i] != "Ann joined" {
			t.Fatalf("room notice %q", rec.lines[i])
		}
		if conv == "lobby" && rec.lines[i] != "Bob joined" {
			t.Fatalf("lobby notice %q", rec.lines[i])
		}
	}
}

// TestWindowRestartsAfterFlush verifies a new add after the flush opens a
// fresh bucket with its own window.
func TestWindowRestartsAfterFlush(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	clk.Advance(5 * time.Second)
	a.Add("room", KindJoin, "Ann")
	clk.Advance(5 * time.Second)

	lines := rec.snapshot()
	if len(lines) != 2 {
		t.Fatalf("got %d notices, want 2: %v", len(lines), lines)
	}
}

// TestCloseFlushesPending drains open buckets immediately.
func TestCloseFlushesPending(t *testing.T) {
	clk := clock.NewFake()
	rec := &sinkRec{}
	a := New(clk, 5*time.Second, rec.sink)

	a.Add("room", KindJoin, "Ann")
	a.Add("room", KindJoin, "Bob")
	a.Close()

	lines := rec.snapshot()
	if len(lines) != 1 || lines[0] != "Ann and Bob joined" {
		t.Fatalf("unexpected notices %v", lines)
	}
	a.Add("room", KindJoin, "Cid")
	clk.Advance(10 * time.Second)
	if len(rec.snapshot()) != 1 {
		t.Fatalf("aggregator accepted adds after close")
	}
}

// TestFormatNotice covers the list rendering rules.
func TestFormatNotice(t *testing.T) {
	cases := []struct {
		names []string
		kind  Kind
		want  string
	}{
		{nil, KindJoin, ""},
		{[]string{"Ann"}, KindJoin, "Ann joined"},
		{[]string{"Ann", "Bob"}, KindLeave, "Ann and Bob left"},
		{[]string{"Ann", "Bob", "Cid", "Dee"}, KindJoin, "Ann, Bob, Cid and Dee joined"},
	}
	for _, c := range cases {
		if got := FormatNotice(c.names, c.kind); got != c.want {
			t.Fatalf("FormatNotice(%v, %s) = %q, want %q", c.names, c.kind, got, c.want)
		}
	}
}
