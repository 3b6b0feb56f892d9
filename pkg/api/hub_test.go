package api

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"parley/pkg/bus"
	"parley/pkg/clock"
	"parley/pkg/presence"
	"parley/pkg/service"
	"parley/pkg/store"
	"parley/pkg/window"
)

type hookLog struct {
	mu     sync.Mutex
	events []string
}

func (l *hookLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *hookLog) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func newTestHub(t *testing.T) (*Hub, *presence.Manager, *clock.Fake, *hookLog) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	msgr := bus.NewInMem()
	t.Cleanup(func() { _ = msgr.Close() })
	clk := clock.NewFake()
	chat := service.NewChat(st, window.New(st, 10), msgr, clk, nil)

	log := &hookLog{}
	var hub *Hub
	pres := presence.New(clk, presence.Config{
		Grace:               3 * time.Second,
		SweepInterval:       time.Second,
		InactivityThreshold: time.Minute,
	}, presence.Hooks{
		Online:  func(id presence.Identity) { log.add("online/" + id.ID) },
		Offline: func(id presence.Identity) { log.add("offline/" + id.ID) },
		Joined: func(conv string, id presence.Identity) {
			hub.OnJoined(conv, id)
			log.add("joined/" + conv + "/" + id.ID)
		},
		Left: func(conv string, id presence.Identity) {
			hub.OnLeft(conv, id)
			log.add("left/" + conv + "/" + id.ID)
		},
	})
	hub = NewHub(chat, pres, msgr, nil, HubConfig{})
	return hub, pres, clk, log
}

func newTestConn(h *Hub) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:      id,
		sess:    id,
		hub:     h,
		send:    make(chan []byte, 64),
		limiter: rate.NewLimiter(rate.Limit(100), 100),
	}
}

func bindFrame(sess string, convs ...string) clientFrame {
	return clientFrame{
		Op:            opBind,
		UserID:        "ann",
		Username:      "Ann",
		SessionID:     sess,
		Conversations: convs,
	}
}

// TestRebindWithinGraceSuppressesChurn drives a page reload: the socket
// drops, a new one binds the same session id within the grace period, and
// no offline/online or left/joined churn leaks out.
func TestRebindWithinGraceSuppressesChurn(t *testing.T) {
	h, pres, clk, log := newTestHub(t)

	c1 := newTestConn(h)
	h.register(c1)
	h.handleBind(c1, bindFrame("tab-1", "room"))
	if !pres.IsJoined("tab-1", "room") {
		t.Fatalf("session not joined after bind")
	}

	h.unregister(c1)
	clk.Advance(time.Second)

	c2 := newTestConn(h)
	h.register(c2)
	h.handleBind(c2, bindFrame("tab-1", "room"))

	ack := string(<-c2.send)
	if !strings.Contains(ack, `"rejoined":true`) {
		t.Fatalf("bind ack missing rejoin marker: %s", ack)
	}
	if !strings.Contains(ack, `"sessionId":"tab-1"`) {
		t.Fatalf("bind ack missing session id: %s", ack)
	}

	// the old session's grace timer must be dead
	clk.Advance(10 * time.Second)

	if got := log.count("online/"); got != 1 {
		t.Fatalf("online announced %d times, want 1", got)
	}
	if got := log.count("offline/"); got != 0 {
		t.Fatalf("offline announced %d times, want 0", got)
	}
	if got := log.count("joined/"); got != 1 {
		t.Fatalf("joined announced %d times, want 1", got)
	}
	if got := log.count("left/"); got != 0 {
		t.Fatalf("left announced %d times, want 0", got)
	}
	if !pres.Online("ann") {
		t.Fatalf("ann should still be online")
	}
}

// TestBindSupersedesOldSocket binds a second socket onto a live session
// and checks the old one is closed without tearing the session down.
func TestBindSupersedesOldSocket(t *testing.T) {
	h, pres, _, _ := newTestHub(t)

	c1 := newTestConn(h)
	h.register(c1)
	h.handleBind(c1, bindFrame("tab-1", "room"))

	c2 := newTestConn(h)
	h.register(c2)
	h.handleBind(c2, bindFrame("tab-1", "room"))

	h.mu.Lock()
	cur := h.conns["tab-1"]
	h.mu.Unlock()
	if cur != c2 {
		t.Fatalf("session not owned by the new socket")
	}
	c1.mu.Lock()
	closed := c1.closed
	c1.mu.Unlock()
	if !closed {
		t.Fatalf("superseded socket left open")
	}

	// the old socket's teardown must not disconnect the session
	h.unregister(c1)
	if !pres.IsJoined("tab-1", "room") {
		t.Fatalf("session dropped by stale teardown")
	}
}
