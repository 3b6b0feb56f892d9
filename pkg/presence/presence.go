// Package presence tracks connection sessions and identity online state:
// which connections are bound to which identity, which conversations they
// joined, disconnect grace handling and the coarse inactivity sweep.
package presence

import (
	"context"
	"sync"
	"time"

	"parley/pkg/clock"
	"parley/pkg/logger"
	"parley/pkg/telemetry"
)

// Identity is the session-layer identity bound to a connection. It is
// supplied by the identity collaborator and trusted as-is.
type Identity struct {
	ID     string `json:"userId"`
	Name   string `json:"username"`
	Avatar string `json:"avatar,omitempty"`
}

// Hooks receive presence transitions. They are invoked synchronously with
// the transition that triggered them and must not call back into the
// Manager.
type Hooks struct {
	// Online fires when an identity gains its first active session or
	// becomes active again after an inactivity sweep.
	Online func(id Identity)
	// Offline fires when an identity's last active session is removed or
	// the sweep marks it inactive.
	Offline func(id Identity)
	// Joined fires when a connection joins a conversation, except on
	// grace-period rejoins.
	Joined func(conv string, id Identity)
	// Left fires when a session leaves a conversation, including removal
	// after grace expiry.
	Left func(conv string, id Identity)
}

// Config tunes the state machine timers.
type Config struct {
	// Grace is the delay between transport disconnect and session removal.
	Grace time.Duration
	// SweepInterval drives the inactivity sweep.
	SweepInterval time.Duration
	// InactivityThreshold marks identities offline when no heartbeat was
	// seen for this long, even with an open transport.
	InactivityThreshold time.Duration
}

const (
	defaultGrace      = 3 * time.Second
	defaultSweep      = time.Second
	defaultInactivity = 75 * time.Second
)

type session struct {
	connID       string
	ident        Identity
	joined       map[string]struct{}
	active       string
	pending      bool
	disconnectAt time.Time
	grace        clock.Timer
}

// Manager owns all session and identity state in process memory. Construct
// one per process and pass it by reference; tests build isolated instances
// on a fake clock.
type Manager struct {
	clk   clock.Clock
	cfg   Config
	hooks Hooks

	mu       sync.Mutex
	sessions map[string]*session
	lastSeen map[string]time.Time
	online   map[string]bool
	names    map[string]Identity
}

// New builds a Manager. Zero config fields take the defaults (3s grace,
// 1s sweep, 75s inactivity).
func New(clk clock.Clock, cfg Config, hooks Hooks) *Manager {
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweep
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = defaultInactivity
	}
	return &Manager{
		clk:      clk,
		cfg:      cfg,
		hooks:    hooks,
		sessions: make(map[string]*session),
		lastSeen: make(map[string]time.Time),
		online:   make(map[string]bool),
		names:    make(map[string]Identity),
	}
}

// Bind attaches an identity to a connection and joins the given
// conversations. A bind for a connection sitting in its disconnect grace
// period is a rejoin: the grace timer is cancelled and conversations the
// session already held rejoin silently. Reports whether this was such a
// rejoin.
func (m *Manager) Bind(connID string, ident Identity, convs ...string) (rejoined bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[connID]
	if ok && s.pending {
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
		s.pending = false
		rejoined = true
	}
	if !ok {
		s = &session{connID: connID, ident: ident, joined: make(map[string]struct{})}
		m.sessions[connID] = s
	}
	s.ident = ident
	m.names[ident.ID] = ident
	var newly []string
	for _, c := range convs {
		if _, in := s.joined[c]; !in {
			s.joined[c] = struct{}{}
			newly = append(newly, c)
		}
	}
	m.lastSeen[ident.ID] = m.clk.Now()
	m.recomputeLocked(ident.ID)
	// A rejoin keeps its joined set across the grace period, so newly only
	// holds genuinely new conversations and those always announce.
	if m.hooks.Joined != nil {
		for _, c := range newly {
			m.hooks.Joined(c, ident)
		}
	}
	return rejoined
}

// Join adds one conversation to a bound session. Reports whether the
// session was already joined.
func (m *Manager) Join(connID, conv string) (already bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[connID]
	if !found {
		return false, false
	}
	if _, in := s.joined[conv]; in {
		return true, true
	}
	s.joined[conv] = struct{}{}
	m.lastSeen[s.ident.ID] = m.clk.Now()
	m.recomputeLocked(s.ident.ID)
	if m.hooks.Joined != nil {
		m.hooks.Joined(conv, s.ident)
	}
	return false, true
}

// Leave removes one conversation from a session.
func (m *Manager) Leave(connID, conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[connID]
	if !found {
		return
	}
	if _, in := s.joined[conv]; !in {
		return
	}
	delete(s.joined, conv)
	if s.active == conv {
		s.active = ""
	}
	if m.hooks.Left != nil {
		m.hooks.Left(conv, s.ident)
	}
}

// SetActive records the conversation a connection currently views.
func (m *Manager) SetActive(connID, conv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[connID]; ok {
		s.active = conv
	}
}

// Disconnect moves a session into its grace period instead of removing it,
// tolerating transient network blips and page reloads.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok || s.pending {
		return
	}
	s.pending = true
	s.disconnectAt = m.clk.Now()
	at := s.disconnectAt
	s.grace = m.clk.AfterFunc(m.cfg.Grace, func() { m.expire(connID, at) })
	m.recomputeLocked(s.ident.ID)
}

// expire removes a session when its grace timer fires. The disconnect
// timestamp guards against a timer outliving a rejoin/redisconnect cycle.
func (m *Manager) expire(connID string, disconnectAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok || !s.pending || !s.disconnectAt.Equal(disconnectAt) {
		return
	}
	delete(m.sessions, connID)
	for c := range s.joined {
		if m.hooks.Left != nil {
			m.hooks.Left(c, s.ident)
		}
	}
	m.recomputeLocked(s.ident.ID)
	logger.Debug("session_expired", "conn", connID, "identity", s.ident.ID)
}

// Unbind removes a session immediately (explicit full leave).
func (m *Manager) Unbind(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return
	}
	if s.grace != nil {
		s.grace.Stop()
	}
	delete(m.sessions, connID)
	for c := range s.joined {
		if m.hooks.Left != nil {
			m.hooks.Left(c, s.ident)
		}
	}
	m.recomputeLocked(s.ident.ID)
}

// Heartbeat refreshes the identity's activity timestamp. Any qualifying
// client action (join, send, explicit ping) calls this.
func (m *Manager) Heartbeat(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return
	}
	m.lastSeen[s.ident.ID] = m.clk.Now()
	m.recomputeLocked(s.ident.ID)
}

// Online reports whether the identity currently counts as online.
func (m *Manager) Online(identityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[identityID]
}

// IsJoined reports whether the connection has joined the conversation.
func (m *Manager) IsJoined(connID, conv string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return false
	}
	_, in := s.joined[conv]
	return in
}

// IdentityOf returns the identity bound to a connection.
func (m *Manager) IdentityOf(connID string) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	if !ok {
		return Identity{}, false
	}
	return s.ident, true
}

// Roster lists the distinct identities with a session joined to conv.
func (m *Manager) Roster(conv string) []Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []Identity
	for _, s := range m.sessions {
		if _, in := s.joined[conv]; !in {
			continue
		}
		if _, dup := seen[s.ident.ID]; dup {
			continue
		}
		seen[s.ident.ID] = struct{}{}
		out = append(out, s.ident)
	}
	return out
}

// JoinedConns lists the connection ids bound to conv, for broadcast
// scoping.
func (m *Manager) JoinedConns(conv string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.sessions {
		if _, in := s.joined[conv]; in {
			out = append(out, id)
		}
	}
	return out
}

// OnlineCounts returns the number of online identities per conversation.
func (m *Manager) OnlineCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counted := map[string]map[string]struct{}{}
	for _, s := range m.sessions {
		if !m.online[s.ident.ID] {
			continue
		}
		for c := range s.joined {
			if counted[c] == nil {
				counted[c] = map[string]struct{}{}
			}
			counted[c][s.ident.ID] = struct{}{}
		}
	}
	out := make(map[string]int, len(counted))
	for c, ids := range counted {
		out[c] = len(ids)
	}
	return out
}

// recomputeLocked derives the identity's online state and broadcasts on
// change. Centralizing the transition here keeps every broadcast atomic
// with its state change: an already-online identity never re-broadcasts
// online.
func (m *Manager) recomputeLocked(identityID string) {
	// Sessions in their grace period still count: an identity stays online
	// through a transport blip and goes offline only when the session is
	// actually removed.
	active := false
	for _, s := range m.sessions {
		if s.ident.ID == identityID {
			active = true
			break
		}
	}
	if active && m.cfg.InactivityThreshold > 0 {
		if last, ok := m.lastSeen[identityID]; ok {
			if m.clk.Now().Sub(last) > m.cfg.InactivityThreshold {
				active = false
			}
		}
	}
	was := m.online[identityID]
	if active == was {
		return
	}
	ident := m.names[identityID]
	if active {
		m.online[identityID] = true
		telemetry.OnlineIdentities.Inc()
		if m.hooks.Online != nil {
			m.hooks.Online(ident)
		}
	} else {
		delete(m.online, identityID)
		telemetry.OnlineIdentities.Dec()
		if m.hooks.Offline != nil {
			m.hooks.Offline(ident)
		}
	}
}

// StartSweep runs the inactivity sweep until ctx is done. Sessions whose
// identity saw no heartbeat within the threshold are marked offline even
// if their transport is still open.
func (m *Manager) StartSweep(ctx context.Context) {
	var tick func()
	schedule := func() {
		m.clk.AfterFunc(m.cfg.SweepInterval, tick)
	}
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		m.sweepOnce()
		schedule()
	}
	schedule()
}

func (m *Manager) sweepOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := map[string]struct{}{}
	for _, s := range m.sessions {
		ids[s.ident.ID] = struct{}{}
	}
	for id := range ids {
		m.recomputeLocked(id)
	}
}
