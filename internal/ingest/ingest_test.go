package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rate-throttler/internal/ingest"
	"rate-throttler/internal/model"
)

var upgrader = websocket.Upgrader{}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func fastRetry() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

func TestIngester_PublishesAndReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if conns.Add(1) > 1 {
			// Later connections stay open until the client goes away.
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}
		c.WriteMessage(websocket.TextMessage, []byte(`{"pair":"EURUSD","rate":"1.1"}`))
		c.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		c.WriteMessage(websocket.TextMessage, []byte(`[{"pair":"GBPUSD","rate":1.3},{"pair":"USDJPY","rate":150}]`))
	}))
	defer srv.Close()

	pub := &recorder{}
	in := ingest.NewIngester(wsURL(srv), pub, zap.NewNop(), ingest.WithBackOff(fastRetry))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.Update{
		{Key: "EURUSD", Rate: 1.1},
		{Key: "GBPUSD", Rate: 1.3},
		{Key: "USDJPY", Rate: 150},
	}, pub.all())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIngester_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	in := ingest.NewIngester(url, &recorder{}, zap.NewNop(), ingest.WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}))

	err := in.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), url)
}

func TestPoller(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rates":[{"pair":"EURUSD","rate":"1.08"},{"pair":"USDCHF","rate":0.88}]}`))
	}))
	defer srv.Close()

	pub := &recorder{}
	p := ingest.NewPoller(srv.URL, 5*time.Millisecond, pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// The failed second poll is skipped, the third succeeds.
	require.Eventually(t, func() bool { return pub.len() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := pub.all()
	assert.Equal(t, model.Update{Key: "EURUSD", Rate: 1.08}, got[0])
	assert.Equal(t, model.Update{Key: "USDCHF", Rate: 0.88}, got[1])
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}
