package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	reconnectDelay    = time.Second
	maxReconnectDelay = 30 * time.Second
)

// Publisher is the sink every source feeds. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ccyPair string, rate float64)
}

// Source is a producer that runs until ctx is done or it fails for good.
type Source interface {
	Run(ctx context.Context) error
}

// Ingester streams rates from a websocket feed. Each frame is a tick
// object or an array of them:
//
//	{"pair":"EURUSD","rate":"1.0825"}
//
// The connection is re-established with exponential backoff; the backoff
// resets after any connection that delivered at least one tick.
type Ingester struct {
	url    string
	pub    Publisher
	logger *zap.Logger
	dialer *websocket.Dialer

	newBackOff func() backoff.BackOff
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithBackOff overrides the reconnect policy. A policy that returns
// backoff.Stop makes Run give up and return the last error.
func WithBackOff(fn func() backoff.BackOff) IngesterOption {
	return func(i *Ingester) { i.newBackOff = fn }
}

func NewIngester(url string, pub Publisher, logger *zap.Logger, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		url:    url,
		pub:    pub,
		logger: logger.With(zap.String("source", "websocket")),
		dialer: websocket.DefaultDialer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = reconnectDelay
			b.MaxInterval = maxReconnectDelay
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run blocks until ctx is done. It returns nil on cancellation.
func (i *Ingester) Run(ctx context.Context) error {
	b := i.newBackOff()
	b.Reset()

	for {
		received, err := i.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received > 0 {
			b.Reset()
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("websocket feed %s: %w", i.url, err)
		}
		i.logger.Warn("feed disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay), zap.Int("received", received))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (i *Ingester) connectAndConsume(ctx context.Context) (int, error) {
	c, _, err := i.dialer.DialContext(ctx, i.url, nil)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	i.logger.Info("connected to feed", zap.String("url", i.url))

	received := 0
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return received, err
		}
		updates, err := decodePayload("", data)
		if err != nil {
			i.logger.Debug("skipping frame", zap.Error(err))
			continue
		}
		for _, u := range updates {
			i.pub.Publish(u.Key, u.Rate)
		}
		received += len(updates)
	}
}
