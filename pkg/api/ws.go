package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The session protocol authenticates via the bind frame, not the
	// handshake origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Conn is one websocket session. sess starts as the conn id and is
// re-keyed when a bind frame carries a resumable session id; sess and
// author are written only by the hub loop, pumps never touch them.
type Conn struct {
	id      string
	sess    string
	hub     *Hub
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	author  models.Author

	mu     sync.Mutex
	closed bool
}

// ServeWS upgrades the request and runs the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}
	id := uuid.NewString()
	c := &Conn{
		id:      id,
		sess:    id,
		hub:     h,
		ws:      ws,
		send:    make(chan []byte, h.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FrameRate), h.cfg.FrameBurst),
	}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()
	c.ws.SetReadLimit(c.hub.cfg.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_error", "conn", c.id, "error", err.Error())
			}
			return
		}
		if !c.limiter.Allow() {
			telemetry.DroppedEvents.Inc()
			c.sendError("", "rate_limited", "slow down")
			continue
		}
		if err := c.hub.queue.TryEnqueue(c, data); err != nil {
			c.sendError("", "unavailable", "server busy")
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues an outbound frame without blocking. A connection that
// cannot keep up is closed rather than allowed to stall fanout.
func (c *Conn) trySend(data []byte) {
	if data == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		telemetry.DroppedEvents.Inc()
		logger.Warn("ws_slow_consumer", "conn", c.id)
		c.close()
	}
}

func (c *Conn) sendError(op, code, message string) {
	c.trySend(encodeFrame(evError, "", errorPayload{Op: op, Code: code, Message: message}))
}

func (c *Conn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}
