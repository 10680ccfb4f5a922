package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 3 * time.Second

// Poller fetches a rate snapshot over HTTP on a fixed interval. The body
// uses any shape decodePayload accepts, typically {"rates":[...]}. Failed
// polls are logged and retried on the next tick.
type Poller struct {
	url      string
	interval time.Duration
	pub      Publisher
	logger   *zap.Logger
	client   *http.Client
}

func NewPoller(url string, interval time.Duration, pub Publisher, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		url:      url,
		interval: interval,
		pub:      pub,
		logger:   logger.With(zap.String("source", "poll")),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Run polls once immediately, then every interval, until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.pollAndLog(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.pollAndLog(ctx)
		}
	}
}

func (p *Poller) pollAndLog(ctx context.Context) {
	n, err := p.poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("poll failed", zap.Error(err))
		}
		return
	}
	p.logger.Debug("poll", zap.Int("rates", n))
}

func (p *Poller) poll(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	updates, err := decodePayload("", body)
	if err != nil {
		return 0, err
	}
	for _, u := range updates {
		p.pub.Publish(u.Key, u.Rate)
	}
	return len(updates), nil
}
