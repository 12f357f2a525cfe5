// Package transport assembles and runs the HTTP surface: the
// OpenAI-compatible gateway routes, health and metrics probes, and the
// admin plane. Handlers live with their owning packages; this package
// owns routing, middleware order, and server lifecycle.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hearthd/hearth/pkg/auth"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/observability"
)

// GatewayAPI is the query pipeline's HTTP handler surface.
type GatewayAPI interface {
	HandleChatCompletions(w http.ResponseWriter, r *http.Request)
	HandleResponses(w http.ResponseWriter, r *http.Request)
	HandleModels(w http.ResponseWriter, r *http.Request)
}

// Server manages the HTTP listener lifecycle and owns the route table.
type Server struct {
	mu  sync.RWMutex
	cfg *config.Config

	gateway        GatewayAPI
	plane          ConfigPlane
	routerMetrics  RouterMetrics
	validator      *auth.JWTValidator
	metricsHandler http.Handler
	reload         func(ctx context.Context) (*config.Config, error)
	checks         []Check

	health     *Health
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithPlane wires the admin configuration plane routes.
func WithPlane(p ConfigPlane) Option {
	return func(s *Server) { s.plane = p }
}

// WithRouterMetrics wires the rolling-window report route.
func WithRouterMetrics(m RouterMetrics) Option {
	return func(s *Server) { s.routerMetrics = m }
}

// WithJWTValidator wires JWT validation into the auth middleware.
func WithJWTValidator(v *auth.JWTValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithMetricsHandler wires the Prometheus exposition handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithReload wires the config reload hook invoked by POST
// /config/refresh. The hook returns the new effective config.
func WithReload(fn func(ctx context.Context) (*config.Config, error)) Option {
	return func(s *Server) { s.reload = fn }
}

// WithChecks registers health checks.
func WithChecks(checks ...Check) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// New assembles a server over the given config and gateway. The route
// table is fixed at construction; collaborators left unwired answer
// 503 on their routes.
func New(cfg *config.Config, gw GatewayAPI, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gw,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = NewHealth(s.checks...)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware)
	r.Use(auth.Middleware(&s.cfg.Auth, s.validator))

	r.Post("/v1/chat/completions", s.gateway.HandleChatCompletions)
	r.Post("/v1/responses", s.gateway.HandleResponses)
	r.Get("/v1/models", s.gateway.HandleModels)
	r.Get("/v1/router/metrics", s.handleRouterMetrics)

	r.Get("/health", s.health.HandleAggregate)
	r.Get("/health/live", s.health.HandleLive)
	r.Get("/health/ready", s.health.HandleReady)
	r.Get("/health/startup", s.health.HandleStartup)

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		if s.metricsHandler == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "metrics not configured", "service_unavailable")
			return
		}
		s.metricsHandler.ServeHTTP(w, req)
	})

	r.Get("/config", s.handleConfig)
	r.Post("/config/refresh", s.handleConfigRefresh)
	r.Post("/admin/invalidate-feature-cache", s.handleInvalidateFlags)
	r.Get("/debug/feature-flags", s.handleFeatureFlags)

	return r
}

// Handler exposes the assembled route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health exposes the probe handler so callers can register late checks.
func (s *Server) Health() *Health {
	return s.health
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Server) setConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// ApplyConfig swaps the served config and resets the plane's TTL
// caches, the same path POST /config/refresh takes. The config
// watcher calls this after a successful file reload.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.setConfig(cfg)
	if s.plane != nil {
		s.plane.Refresh()
	}
}

// Start listens and serves. Blocking; returns nil after a clean Stop.
func (s *Server) Start() error {
	cfg := s.config()
	address := cfg.Server.Address()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	// WriteTimeout stays at the configured value, zero by default, so
	// SSE streams are not cut off mid-response.
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = srv
	s.mu.Unlock()

	s.health.MarkStarted()
	slog.Info("HTTP server starting", "address", s.Address())

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests. When the context expires first, the
// server is closed hard.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	slog.Info("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("Graceful shutdown incomplete, forcing close", "error", err)
		return srv.Close()
	}
	slog.Info("HTTP server stopped")
	return nil
}

// StopWithTimeout stops the server bounded by the configured shutdown
// timeout.
func (s *Server) StopWithTimeout() error {
	timeout := s.config().Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Stop(ctx)
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()
	if listener != nil {
		return listener.Addr().String()
	}
	return s.config().Server.Address()
}
