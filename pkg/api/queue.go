package api

import (
	"errors"
	"sync"

	"github.com/valyala/bytebufferpool"

	"parley/pkg/telemetry"
)

// ErrQueueFull is returned by TryEnqueue when the frame queue is at
// capacity.
var ErrQueueFull = errors.New("frame queue full")

const maxPooledFrame = 1 << 20

// frame is one inbound client frame waiting for the hub loop. The payload
// is backed by a pooled buffer; the hub calls Done exactly once after
// dispatch.
type frame struct {
	conn    *Conn
	payload []byte

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

func (f *frame) Done() {
	f.once.Do(func() {
		if f.buf != nil {
			if cap(f.buf.B) <= maxPooledFrame {
				bytebufferpool.Put(f.buf)
			}
			f.buf = nil
		}
		f.payload = nil
		f.conn = nil
		framePool.Put(f)
	})
}

var framePool = sync.Pool{New: func() any { return new(frame) }}

// frameQueue is the bounded channel between socket readers and the hub
// loop. Readers copy each message into a pooled buffer so the websocket
// read buffer can be reused immediately.
type frameQueue struct {
	ch chan *frame
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &frameQueue{ch: make(chan *frame, capacity)}
}

// TryEnqueue copies data into a pooled frame and offers it to the hub
// without blocking the reader.
func (q *frameQueue) TryEnqueue(c *Conn, data []byte) error {
	f := framePool.Get().(*frame)
	f.once = sync.Once{}
	buf := bytebufferpool.Get()
	buf.Reset()
	_, _ = buf.Write(data)
	f.conn = c
	f.buf = buf
	f.payload = buf.B
	select {
	case q.ch <- f:
		return nil
	default:
		f.Done()
		telemetry.DroppedEvents.Inc()
		return ErrQueueFull
	}
}

func (q *frameQueue) Out() <-chan *frame { return q.ch }
