package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psaab/ipfwd/pkg/forwarding"
	"github.com/psaab/ipfwd/pkg/link"
	"github.com/psaab/ipfwd/pkg/logging"
)

// Dataplane is the view of the forwarding pipeline the API needs.
type Dataplane interface {
	Tables() *forwarding.Tables
	Stats() forwarding.Stats
}

// PortLister describes the router's ports.
type PortLister interface {
	Describe() []link.PortInfo
}

// Config configures the API server.
type Config struct {
	Addr     string
	Auth     *AuthConfig // nil = no authentication
	DP       Dataplane
	Ports    PortLister
	EventBuf *logging.EventBuffer
	ReloadFn func() error // nil disables POST /api/v1/reload
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	dp         Dataplane
	ports      PortLister
	eventBuf   *logging.EventBuffer
	reloadFn   func() error
	auth       *AuthConfig
	startTime  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	s := &Server{
		dp:        cfg.DP,
		ports:     cfg.Ports,
		eventBuf:  cfg.EventBuf,
		reloadFn:  cfg.ReloadFn,
		auth:      cfg.Auth,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health + metrics
	mux.HandleFunc("GET /health", s.healthHandler)

	// Prometheus metrics with isolated registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(newCollector(s))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// REST API v1
	mux.HandleFunc("GET /api/v1/status", s.guard(s.statusHandler, false))
	mux.HandleFunc("GET /api/v1/statistics", s.guard(s.statisticsHandler, false))
	mux.HandleFunc("GET /api/v1/routes", s.guard(s.routesHandler, false))
	mux.HandleFunc("GET /api/v1/routes/lookup/{addr}", s.guard(s.lookupHandler, false))
	mux.HandleFunc("GET /api/v1/neighbors", s.guard(s.neighborsHandler, false))
	mux.HandleFunc("GET /api/v1/interfaces", s.guard(s.interfacesHandler, false))
	mux.HandleFunc("GET /api/v1/events", s.guard(s.eventsHandler, false))
	mux.HandleFunc("GET /api/v1/events/stream", s.guard(s.eventStreamHandler, false))
	mux.HandleFunc("POST /api/v1/reload", s.guard(s.reloadHandler, true))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
