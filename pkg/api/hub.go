// Package api is the transport layer: the websocket hub that drives the
// conversation service and the REST read endpoints beside it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"parley/pkg/bus"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/presence"
	"parley/pkg/service"
	"parley/pkg/telemetry"
	"parley/pkg/validation"
)

// Directory optionally resolves a client-claimed user id into a verified
// author profile. With no directory wired the bind frame is trusted as-is.
type Directory interface {
	Lookup(ctx context.Context, userID string) (models.Author, error)
}

// HubConfig tunes the transport buffers and per-connection limits.
type HubConfig struct {
	QueueSize     int
	SendBuffer    int
	MaxFrameBytes int64
	// FrameRate and FrameBurst bound inbound frames per connection.
	FrameRate  float64
	FrameBurst int
}

type convSub struct {
	refs   int
	sub    bus.Subscription
	cancel context.CancelFunc
}

// Hub owns every websocket connection. All inbound frames funnel through
// one bounded queue into a single dispatch goroutine, so command handling
// needs no locking of its own; fanout from the bus runs beside it and only
// touches the connection registry.
type Hub struct {
	chat *service.Chat
	pres *presence.Manager
	msgr bus.Messenger
	dir  Directory
	cfg  HubConfig

	queue *frameQueue

	mu    sync.Mutex
	conns map[string]*Conn
	subs  map[string]*convSub

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(chat *service.Chat, pres *presence.Manager, msgr bus.Messenger, dir Directory, cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 << 10
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 25
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = 50
	}
	h := &Hub{
		chat:  chat,
		pres:  pres,
		msgr:  msgr,
		dir:   dir,
		cfg:   cfg,
		queue: newFrameQueue(cfg.QueueSize),
		conns: make(map[string]*Conn),
		subs:  make(map[string]*convSub),
		done:  make(chan struct{}),
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Run starts the dispatch loop and blocks until ctx is done and the queue
// drains.
func (h *Hub) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			h.cancel()
		case <-h.ctx.Done():
		}
	}()
	defer close(h.done)
	for {
		select {
		case f := <-h.queue.Out():
			h.dispatch(f)
		case <-h.ctx.Done():
			for {
				select {
				case f := <-h.queue.Out():
					f.Done()
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops the loop and closes every connection.
func (h *Hub) Shutdown() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	subs := h.subs
	h.subs = make(map[string]*convSub)
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	for _, s := range subs {
		s.cancel()
		_ = s.sub.Unsubscribe()
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	h.conns[c.sess] = c
	n := len(h.conns)
	h.mu.Unlock()
	telemetry.Connections.Set(float64(n))
	logger.Debug("ws_connected", "conn", c.id)
}

// unregister drops the connection's session entry unless a newer socket
// has already adopted the session; a superseded socket's teardown must not
// disconnect its successor.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	sess := c.sess
	cur, ok := h.conns[sess]
	owned := ok && cur == c
	if owned {
		delete(h.conns, sess)
	}
	n := len(h.conns)
	h.mu.Unlock()
	telemetry.Connections.Set(float64(n))
	if !owned {
		return
	}
	h.pres.Disconnect(sess)
	logger.Debug("ws_disconnected", "conn", c.id)
}

// adoptSession re-keys the connection onto a client-supplied resumable
// session id, closing any previous socket still holding it. Keying
// presence on the client's id is what lets a reconnect land inside the
// old session's grace period.
func (h *Hub) adoptSession(c *Conn, sess string) {
	h.mu.Lock()
	if c.sess == sess {
		h.mu.Unlock()
		return
	}
	old := h.conns[sess]
	if cur, ok := h.conns[c.sess]; ok && cur == c {
		delete(h.conns, c.sess)
	}
	c.sess = sess
	h.conns[sess] = c
	h.mu.Unlock()
	if old != nil && old != c {
		old.close()
	}
}

// OnJoined retains the conversation's bus subscription and is wired as a
// presence hook, so every session join, however triggered, keeps the
// fanout stream alive.
func (h *Hub) OnJoined(conv string, _ presence.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[conv]; ok {
		s.refs++
		return
	}
	sctx, cancel := context.WithCancel(h.ctx)
	ch := make(chan []byte, 256)
	sub, err := h.msgr.Stream(sctx, bus.ConversationSubject(conv), ch)
	if err != nil {
		cancel()
		logger.Error("bus_subscribe_failed", "conversation", conv, "error", err.Error())
		return
	}
	h.subs[conv] = &convSub{refs: 1, sub: sub, cancel: cancel}
	go h.relay(sctx, conv, ch)
}

// OnLeft releases one reference on the conversation's subscription.
func (h *Hub) OnLeft(conv string, _ presence.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[conv]
	if !ok {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	delete(h.subs, conv)
	s.cancel()
	_ = s.sub.Unsubscribe()
}

// relay forwards bus events for one conversation to its joined
// connections.
func (h *Hub) relay(ctx context.Context, conv string, ch <-chan []byte) {
	for {
		select {
		case data := <-ch:
			h.fanout(conv, data)
		case <-ctx.Done():
			return
		}
	}
}

// fanout delivers one event to every connection joined to conv. Events
// never go to sockets outside the conversation.
func (h *Hub) fanout(conv string, data []byte) {
	ids := h.pres.JoinedConns(conv)
	if len(ids) == 0 {
		return
	}
	h.mu.Lock()
	targets := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.trySend(data)
	}
}

// BroadcastPresence announces an identity's online transition to every
// connection. Wired as the presence Online/Offline hooks.
func (h *Hub) BroadcastPresence(ident presence.Identity, online bool) {
	data := encodeFrame(evPresence, "", presencePayload{UserID: ident.ID, Username: ident.Name, Online: online})
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.trySend(data)
	}
}

func (h *Hub) dispatch(f *frame) {
	defer f.Done()
	c := f.conn
	var in clientFrame
	if err := json.Unmarshal(f.payload, &in); err != nil {
		c.sendError("", "validation", "malformed frame")
		return
	}
	switch in.Op {
	case opBind:
		h.handleBind(c, in)
	case opJoin:
		h.handleJoin(c, in)
	case opLeave:
		h.handleLeave(c, in)
	case opActive:
		h.handleActive(c, in)
	case opSend:
		h.handleSend(c, in)
	case opEdit:
		h.handleEdit(c, in)
	case opDelete:
		h.handleDelete(c, in)
	case opReact:
		h.handleReact(c, in)
	case opPage:
		h.handlePage(c, in)
	case opPing:
		h.pres.Heartbeat(c.sess)
		c.trySend(encodeFrame(evPong, "", nil))
	default:
		c.sendError(in.Op, "validation", "unknown op")
	}
}

func (h *Hub) handleBind(c *Conn, in clientFrame) {
	if in.UserID == "" {
		c.sendError(opBind, "validation", "userId required")
		return
	}
	author := models.Author{ID: in.UserID, Name: in.Username, Avatar: in.Avatar, Color: in.BubbleColor}
	if h.dir != nil {
		resolved, err := h.dir.Lookup(h.ctx, in.UserID)
		if err != nil {
			c.sendError(opBind, "unauthorized", "unknown user")
			return
		}
		author = resolved
	}
	if err := validation.DisplayName(author.Name); err != nil {
		c.sendError(opBind, "validation", err.Error())
		return
	}
	for _, conv := range in.Conversations {
		if err := validation.ConversationID(conv); err != nil {
			c.sendError(opBind, "validation", err.Error())
			return
		}
	}
	if in.SessionID != "" {
		if err := validation.SessionID(in.SessionID); err != nil {
			c.sendError(opBind, "validation", err.Error())
			return
		}
		h.adoptSession(c, in.SessionID)
	}
	c.author = author
	ident := presence.Identity{ID: author.ID, Name: author.Name, Avatar: author.Avatar}
	rejoined := h.pres.Bind(c.sess, ident, in.Conversations...)
	c.trySend(encodeFrame(evBound, "", map[string]any{"userId": author.ID, "sessionId": c.sess, "rejoined": rejoined}))
	for _, conv := range in.Conversations {
		h.sendWindow(c, conv)
	}
}

func (h *Hub) handleJoin(c *Conn, in clientFrame) {
	if !h.requireBound(c, opJoin) {
		return
	}
	if err := validation.ConversationID(in.Conversation); err != nil {
		c.sendError(opJoin, "validation", err.Error())
		return
	}
	if _, ok := h.pres.Join(c.sess, in.Conversation); !ok {
		c.sendError(opJoin, "unauthorized", "bind first")
		return
	}
	h.pres.Heartbeat(c.sess)
	h.sendWindow(c, in.Conversation)
	c.trySend(encodeFrame(evRoster, in.Conversation, h.pres.Roster(in.Conversation)))
}

func (h *Hub) handleLeave(c *Conn, in clientFrame) {
	h.pres.Leave(c.sess, in.Conversation)
}

func (h *Hub) handleActive(c *Conn, in clientFrame) {
	h.pres.SetActive(c.sess, in.Conversation)
	h.pres.Heartbeat(c.sess)
}

func (h *Hub) handleSend(c *Conn, in clientFrame) {
	if !h.requireJoined(c, opSend, in.Conversation) {
		return
	}
	h.pres.Heartbeat(c.sess)
	_, err := h.chat.Send(h.ctx, in.Conversation, c.author, service.SendInput{
		Kind:     in.Kind,
		Text:     in.Text,
		Gif:      in.Gif,
		Media:    in.Media,
		MediaRef: in.MediaRef,
		Audio:    in.Audio,
		ReplyTo:  in.ReplyTo,
	})
	if err != nil {
		c.sendError(opSend, errCode(err), err.Error())
	}
}

func (h *Hub) handleEdit(c *Conn, in clientFrame) {
	if !h.requireJoined(c, opEdit, in.Conversation) {
		return
	}
	if err := validation.MessageID(in.MessageID); err != nil {
		c.sendError(opEdit, "validation", err.Error())
		return
	}
	h.pres.Heartbeat(c.sess)
	if _, err := h.chat.Edit(h.ctx, in.Conversation, in.MessageID, c.author.ID, in.Text); err != nil {
		c.sendError(opEdit, errCode(err), err.Error())
	}
}

func (h *Hub) handleDelete(c *Conn, in clientFrame) {
	if !h.requireJoined(c, opDelete, in.Conversation) {
		return
	}
	if err := validation.MessageID(in.MessageID); err != nil {
		c.sendError(opDelete, "validation", err.Error())
		return
	}
	h.pres.Heartbeat(c.sess)
	if err := h.chat.Delete(h.ctx, in.Conversation, in.MessageID, c.author.ID); err != nil {
		c.sendError(opDelete, errCode(err), err.Error())
	}
}

func (h *Hub) handleReact(c *Conn, in clientFrame) {
	if !h.requireJoined(c, opReact, in.Conversation) {
		return
	}
	if err := validation.MessageID(in.MessageID); err != nil {
		c.sendError(opReact, "validation", err.Error())
		return
	}
	if err := validation.Emoji(in.Emoji); err != nil {
		c.sendError(opReact, "validation", err.Error())
		return
	}
	h.pres.Heartbeat(c.sess)
	if _, err := h.chat.React(h.ctx, in.Conversation, in.MessageID, c.author.ID, c.author.Name, in.Emoji); err != nil {
		c.sendError(opReact, errCode(err), err.Error())
	}
}

func (h *Hub) handlePage(c *Conn, in clientFrame) {
	if !h.requireJoined(c, opPage, in.Conversation) {
		return
	}
	p, err := h.chat.Page(in.Conversation, in.Before, in.Limit)
	if err != nil {
		c.sendError(opPage, errCode(err), "history unavailable")
		return
	}
	c.trySend(pageFrame(in.Conversation, p))
}

func (h *Hub) sendWindow(c *Conn, conv string) {
	items, err := h.chat.Windows().Latest(conv)
	if err != nil {
		c.sendError("", "unavailable", "window unavailable")
		return
	}
	c.trySend(windowFrame(conv, items))
}

func (h *Hub) requireBound(c *Conn, op string) bool {
	if c.author.ID == "" {
		c.sendError(op, "unauthorized", "bind first")
		return false
	}
	return true
}

func (h *Hub) requireJoined(c *Conn, op, conv string) bool {
	if !h.requireBound(c, op) {
		return false
	}
	if err := validation.ConversationID(conv); err != nil {
		c.sendError(op, "validation", err.Error())
		return false
	}
	if !h.pres.IsJoined(c.sess, conv) {
		c.sendError(op, "unauthorized", "join the conversation first")
		return false
	}
	return true
}

// errCode maps service error classes onto wire codes. Failures go to the
// originating connection only; nothing is broadcast for a rejected
// mutation.
func errCode(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "validation"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
