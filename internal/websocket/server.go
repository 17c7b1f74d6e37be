// Package websocket serves the bridge's client protocol over WebSocket on a
// loopback listener.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/breeze-rmm/notify-bridge/internal/health"
	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/metrics"
)

var log = logging.L("websocket")

// Config holds WebSocket server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string // empty allows any origin
	MaxConnections int      // 0 = unlimited
	SendQueueSize  int
	MetricsEnabled bool
}

// Server accepts client connections and hands each one a Conn.
type Server struct {
	cfg      Config
	handler  MessageHandler
	monitor  *health.Monitor
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server. monitor may be nil.
func NewServer(cfg Config, handler MessageHandler, monitor *health.Monitor) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		monitor: monitor,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.serveWS)
	if s.monitor != nil {
		r.Method(http.MethodGet, "/healthz", s.monitor.Handler())
	}
	if s.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.setHealth(health.Unhealthy, err.Error())
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln
	s.setHealth(health.Healthy, "")
	log.Info("listening", "addr", ln.Addr().String(), "maxConnections", s.cfg.MaxConnections)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", logging.KeyError, err)
			s.setHealth(health.Unhealthy, err.Error())
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes every open connection and waits for
// their read loops to exit or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("timed out waiting for connections to close")
	}
	s.setHealth(health.Unhealthy, "stopped")
	return err
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("upgrade failed", "remote", r.RemoteAddr, logging.KeyError, err)
		return
	}

	c := newConn(s.ctx, ws, s.handler, s.cfg.SendQueueSize)
	if !s.track(c) {
		c.Close()
		return
	}
	defer s.untrack(c)

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	c.Logger().Info("client connected", "remote", r.RemoteAddr)
	c.serve()
	c.Logger().Info("client disconnected")
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// checkOrigin admits non-browser clients (no Origin header) and, when an
// allow-list is configured, only the listed browser origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) setHealth(status health.Status, msg string) {
	if s.monitor != nil {
		s.monitor.Update(health.ComponentListener, status, msg)
	}
}
