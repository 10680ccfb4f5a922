package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rate-throttler/internal/bus"
	"rate-throttler/internal/model"
)

const (
	defaultWriteWait = 5 * time.Second
	maxMessageSize   = 512

	formatMsgPack = "msgpack"
	formatJSON    = "json"
)

// Bus is the part of *bus.Bus the server needs.
type Bus interface {
	Subscribe(s bus.Subscriber) error
	Unsubscribe(s bus.Subscriber)
	Len() int
}

// History supplies the updates replayed to a client before it goes live.
type History interface {
	Latest() []model.Update
}

// Server exposes the bus over websockets. Every connected client is its own
// bus subscriber, so a slow browser only ever falls behind itself: its
// mailbox keeps the latest rate per pair until the socket drains.
type Server struct {
	bus      Bus
	history  History
	logger   *zap.Logger
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	writeWait time.Duration

	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	conns   sync.WaitGroup
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer sets what /metrics serves. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeWait = d }
}

// NewServer creates a server. history may be nil.
func NewServer(b Bus, history History, opts ...Option) *Server {
	s := &Server{
		bus:       b,
		history:   history,
		logger:    zap.NewNop(),
		gatherer:  prometheus.DefaultGatherer,
		writeWait: defaultWriteWait,
		clients:   make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler routes /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.serveHealth)
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]int{
		"subscribers": s.bus.Len(),
		"clients":     s.Clients(),
	})
	if err != nil {
		s.logger.Debug("writing health response", zap.Error(err))
	}
}

// ═══════════════════════════════════════════════════════════════
// HISTORY REPLAY
// ═══════════════════════════════════════════════════════════════
//
// A new client first receives the latest rate of every known pair:
//
//   Message 1:      count header (MsgPack uint32, or {"history":N})
//   Message 2..N+1: one update each
//   After:          live updates from the client's own subscription
//
// The client subscribes first and its worker waits while the handler
// replays, so an update published meanwhile is delivered right after the
// history. Once live the worker is the only data writer and the handler
// goroutine only reads.

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = formatMsgPack
	case formatMsgPack, formatJSON:
	default:
		http.Error(w, "unknown format", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	c := newClient(conn, format, s.writeWait)

	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "shutting down")
		return
	}
	defer s.release(c)

	// Subscribe before taking the snapshot so nothing published in between
	// is missed. The worker buffers live updates until goLive.
	if err := s.bus.Subscribe(c); err != nil {
		s.logger.Warn("subscribe failed", zap.Error(err))
		c.closeWith(websocket.CloseGoingAway, "shutting down")
		return
	}
	defer s.bus.Unsubscribe(c)

	if s.history != nil {
		history := s.history.Latest()
		if err := c.replay(history); err != nil {
			s.logger.Info("history replay interrupted", zap.Error(err))
			return
		}
		if len(history) > 0 {
			s.logger.Debug("replayed history", zap.Int("updates", len(history)))
		}
	}
	c.goLive()

	s.logger.Info("client connected",
		zap.String("remote", r.RemoteAddr), zap.String("format", format), zap.Int("clients", s.Clients()))
	readPump(c)
	s.logger.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

// readPump discards inbound frames until the connection fails. A failed
// write closes the socket too, so this is where every client ends.
func readPump(c *Client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// track registers c with the server; release must follow a true result.
func (s *Server) track(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) release(c *Client) {
	c.goLive()
	c.conn.Close()
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.conns.Done()
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close sends a close frame to every client and waits for their handlers
// to finish. New connections are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "shutting down")
	}
	s.conns.Wait()
}
