package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"parley/pkg/logger"
)

// NATSConfig connects the bus to a NATS cluster for multi-node fanout.
type NATSConfig struct {
	URL      string
	User     string
	Password string
}

type natsBus struct {
	nc *nats.Conn
}

// NewNATS dials the configured NATS server and returns a Messenger backed
// by it.
func NewNATS(cfg NATSConfig) (Messenger, error) {
	opts := []nats.Option{nats.Name("parley")}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info("nats_connected", "url", cfg.URL)
	return &natsBus{nc: nc}, nil
}

func (b *natsBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (b *natsBus) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if b.nc.IsClosed() {
		return nil, ErrClosed
	}
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		default:
			// slow subscriber; broadcasts are best effort
			logger.Warn("nats_subscriber_dropped_message", "subject", subject)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	ns := &natsSub{sub: sub}
	go func() {
		<-ctx.Done()
		_ = ns.Unsubscribe()
	}()
	return ns, nil
}

func (b *natsBus) Close() error {
	return b.nc.Drain()
}

type natsSub struct{ sub *nats.Subscription }

func (s *natsSub) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

var _ Messenger = (*natsBus)(nil)
