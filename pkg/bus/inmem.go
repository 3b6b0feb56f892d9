package bus

import (
	"context"
	"sync"
)

// InMem is the single-process Messenger. Publish delivers to every local
// subscriber of the subject; sends block until the subscriber drains its
// channel or ctx is done, so subscribers buffer their channels.
type InMem struct {
	mu     sync.RWMutex
	closed bool
	subs   map[string][]chan<- []byte
}

// NewInMem returns a Messenger for local, single-process fanout.
func NewInMem() *InMem {
	return &InMem{subs: make(map[string][]chan<- []byte)}
}

func (b *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]chan<- []byte, len(b.subs[subject]))
	copy(targets, b.subs[subject])
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *InMem) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[subject] = append(b.subs[subject], ch)
	sub := &inmemSub{bus: b, subject: subject, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (b *InMem) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[string][]chan<- []byte)
	b.mu.Unlock()
	return nil
}

type inmemSub struct {
	bus     *InMem
	subject string
	ch      chan<- []byte
}

func (s *inmemSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, c := range subs {
		if c == s.ch {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.subs[s.subject]) == 0 {
		delete(s.bus.subs, s.subject)
	}
	return nil
}

var _ Messenger = (*InMem)(nil)
