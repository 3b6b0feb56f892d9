package presence

import (
	"sync"
	"testing"
	"time"

	"parley/pkg/clock"
)

type recorder struct {
	mu      sync.Mutex
	online  []string
	offline []string
	joined  []string
	left    []string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Online:  func(id Identity) { r.mu.Lock(); r.online = append(r.online, id.ID); r.mu.Unlock() },
		Offline: func(id Identity) { r.mu.Lock(); r.offline = append(r.offline, id.ID); r.mu.Unlock() },
		Joined:  func(conv string, id Identity) { r.mu.Lock(); r.joined = append(r.joined, conv+"/"+id.ID); r.mu.Unlock() },
		Left:    func(conv string, id Identity) { r.mu.Lock(); r.left = append(r.left, conv+"/"+id.ID); r.mu.Unlock() },
	}
}

func (r *recorder) counts() (online, offline, joined, left int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.online), len(r.offline), len(r.joined), len(r.left)
}

func newManager(clk clock.Clock, rec *recorder) *Manager {
	return New(clk, Config{
		Grace:               3 * time.Second,
		SweepInterval:       time.Second,
		InactivityThreshold: 60 * time.Second,
	}, rec.hooks())
}

var ann = Identity{ID: "ann", Name: "Ann"}

// TestBindAnnouncesOnlineOnce verifies a second device for the same
// identity does not re-broadcast online.
func TestBindAnnouncesOnlineOnce(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	m.Bind("c2", ann, "room")

	on, _, _, _ := rec.counts()
	if on != 1 {
		t.Fatalf("online broadcast %d times, want 1", on)
	}
	if !m.Online("ann") {
		t.Fatalf("ann should be online")
	}
}

// TestOfflineOnlyAfterLastSession drops two devices in turn; offline fires
// only when the second one's grace expires.
func TestOfflineOnlyAfterLastSession(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	m.Bind("c2", ann, "room")

	m.Disconnect("c1")
	clk.Advance(4 * time.Second)
	if _, off, _, _ := rec.counts(); off != 0 {
		t.Fatalf("offline fired with a live session remaining")
	}
	if !m.Online("ann") {
		t.Fatalf("ann went offline with a live session")
	}

	m.Disconnect("c2")
	clk.Advance(4 * time.Second)
	if _, off, _, _ := rec.counts(); off != 1 {
		t.Fatalf("offline fired %d times, want 1", off)
	}
	if m.Online("ann") {
		t.Fatalf("ann still online after last session expired")
	}
}

// TestGraceRejoinSuppressesChurn reconnects within the grace period: no
// left notice, no repeated join notice, session state intact.
func TestGraceRejoinSuppressesChurn(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	if _, _, j, _ := rec.counts(); j != 1 {
		t.Fatalf("join notices = %d, want 1", j)
	}

	m.Disconnect("c1")
	clk.Advance(time.Second)
	if rejoined := m.Bind("c1", ann, "room"); !rejoined {
		t.Fatalf("expected rejoin within grace")
	}

	clk.Advance(10 * time.Second)
	_, off, j, l := rec.counts()
	if off != 0 || l != 0 {
		t.Fatalf("grace rejoin still produced churn: offline=%d left=%d", off, l)
	}
	if j != 1 {
		t.Fatalf("join notices = %d after rejoin, want 1", j)
	}
	if !m.IsJoined("c1", "room") {
		t.Fatalf("session lost its conversation across the grace period")
	}
}

// TestGraceExpiryRemovesSession lets the grace timer fire and checks the
// left notice and roster update.
func TestGraceExpiryRemovesSession(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	m.Disconnect("c1")
	clk.Advance(3 * time.Second)

	if _, _, _, l := rec.counts(); l != 1 {
		t.Fatalf("left notices = %d, want 1", l)
	}
	if len(m.Roster("room")) != 0 {
		t.Fatalf("roster still lists the expired session")
	}
	if m.IsJoined("c1", "room") {
		t.Fatalf("expired session still joined")
	}
}

// TestStaleGraceTimerIgnored rebinds and re-disconnects; the first timer
// must not remove the session created by the second cycle.
func TestStaleGraceTimerIgnored(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	m.Disconnect("c1")
	clk.Advance(time.Second)
	m.Bind("c1", ann)
	m.Disconnect("c1")
	clk.Advance(2500 * time.Millisecond)
	if !m.Online("ann") {
		// second grace period has 500ms left; the first timer's deadline
		// has passed but must not fire
		t.Fatalf("session expired early")
	}
	clk.Advance(time.Second)
	if m.Online("ann") {
		t.Fatalf("second grace period never expired")
	}
}

// TestInactivitySweepMarksOffline verifies an idle identity goes offline
// despite an open transport, and a heartbeat brings it back.
func TestInactivitySweepMarksOffline(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	clk.Advance(61 * time.Second)
	m.sweepOnce()
	if m.Online("ann") {
		t.Fatalf("idle identity still online")
	}
	if _, off, _, _ := rec.counts(); off != 1 {
		t.Fatalf("offline broadcast %d times, want 1", off)
	}

	m.Heartbeat("c1")
	if !m.Online("ann") {
		t.Fatalf("heartbeat did not revive the identity")
	}
	if on, _, _, _ := rec.counts(); on != 2 {
		t.Fatalf("online broadcast %d times, want 2", on)
	}
}

// TestLeaveEmitsLeftAndUpdatesRoster covers the explicit leave path.
func TestLeaveEmitsLeftAndUpdatesRoster(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room", "lobby")
	m.Leave("c1", "room")
	if _, _, _, l := rec.counts(); l != 1 {
		t.Fatalf("left notices = %d, want 1", l)
	}
	if m.IsJoined("c1", "room") {
		t.Fatalf("still joined after leave")
	}
	if !m.IsJoined("c1", "lobby") {
		t.Fatalf("leave affected an unrelated conversation")
	}
}

// TestRosterDedupsIdentities lists each identity once across its devices.
func TestRosterDedupsIdentities(t *testing.T) {
	clk := clock.NewFake()
	rec := &recorder{}
	m := newManager(clk, rec)

	m.Bind("c1", ann, "room")
	m.Bind("c2", ann, "room")
	m.Bind("c3", Identity{ID: "bob", Name: "Bob"}, "room")

	roster := m.Roster("room")
	if len(roster) != 2 {
		t.Fatalf("roster lists %d identities, want 2", len(roster))
	}
}
