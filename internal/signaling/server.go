package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-relay/internal/ratelimit"
)

type Config struct {
	Hub     *hub.Hub
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	SendQueueLength int

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// Clock drives the per-connection rate limiter. Defaults to the real clock.
	Clock ratelimit.Clock
	// NewID assigns connection identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Server accepts signaling WebSockets on GET /ws.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendQueueLength <= 0 {
		cfg.SendQueueLength = config.DefaultSendQueueLength
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultSignalingWSPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Server{
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			Subprotocols: protocol.Subprotocols(),
			// Origin checks are enforced by the outer httpserver origin middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// RegisterRoutes mounts the signaling endpoint. Each wrap is applied in
// order, outermost last.
func (s *Server) RegisterRoutes(mux *http.ServeMux, wrap ...func(http.Handler) http.Handler) {
	var h http.Handler = s
	for _, w := range wrap {
		h = w(h)
	}
	mux.Handle("GET /ws", h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hub == nil {
		http.Error(w, "hub not configured", http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	codec := protocol.CodecFor(ws.Subprotocol())
	c := newConn(s, ws, s.cfg.NewID(), codec)

	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		c.writePump()
		return
	}
	defer s.untrack(c)

	sess, err := s.cfg.Hub.Accept(c)
	if err != nil {
		switch {
		case errors.Is(err, hub.ErrTooManyConnections):
			c.log.Warn("rejecting connection", "err", err)
			c.closeWith(websocket.CloseTryAgainLater, "too many connections")
		case errors.Is(err, hub.ErrClosed):
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		default:
			c.log.Error("failed to accept connection", "err", err)
			c.closeWith(websocket.CloseInternalServerErr, "internal error")
		}
		c.writePump()
		return
	}
	c.log.Info("signaling connection opened", "remote_addr", r.RemoteAddr, "subprotocol", codec.Name())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(sess)

	s.cfg.Hub.Disconnect(sess)
	c.closeWith(websocket.CloseNormalClosure, "")
	<-writerDone
	c.log.Info("signaling connection closed")
}

// Close stops accepting sockets and closes every live one. Each close runs
// the hub's Disconnect through the socket's own handler.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
