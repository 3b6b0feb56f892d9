// Package bus carries broadcast events between the service core and the
// transport layer. The in-memory implementation covers a single process;
// the NATS implementation fans events out across nodes so every instance
// can deliver mutations to its own sockets.
package bus

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus closed")
)

// Subscription represents an active stream; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
}

// Messenger publishes fire-and-forget payloads to subjects and streams
// subjects into channels.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	Close() error
}

// ConversationSubject names the broadcast subject for one conversation.
// Direct ids contain '|' and ':' which NATS subjects cannot carry, so
// unsafe bytes are hex-escaped to keep distinct ids on distinct subjects.
func ConversationSubject(conv string) string {
	out := make([]byte, 0, len(conv)+8)
	for i := 0; i < len(conv); i++ {
		c := conv[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, fmt.Sprintf("~%02x", c)...)
		}
	}
	return "parley.conv." + string(out)
}
