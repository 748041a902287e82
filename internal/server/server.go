// Package server exposes the screening pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/metrics"
	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/shield"
)

// MaxBodyBytes caps the size of an analyze request body.
const MaxBodyBytes = 1 << 20

const HeaderRequestID = "X-Request-ID"

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Evaluator produces and audits verdicts. *shield.Shield implements it.
type Evaluator interface {
	EvaluateAndAudit(ctx context.Context, req shield.Request, requestID string) shield.Response
}

// PolicyManager is the policy surface served by the API. *policy.Engine
// implements it.
type PolicyManager interface {
	Policies() []policy.Policy
	Status() policy.Status
	Reload() error
	IsHealthy() bool
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

type Server struct {
	cfg      Config
	shield   Evaluator
	policies PolicyManager
	cache    HealthChecker
	registry *prometheus.Registry
	logger   *zap.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

type Option func(*Server)

// WithCache makes /readyz depend on the cache.
func WithCache(c HealthChecker) Option {
	return func(s *Server) { s.cache = c }
}

// WithRegistry serves reg at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(cfg Config, sh Evaluator, pm PolicyManager, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	s := &Server{
		cfg:      cfg,
		shield:   sh,
		policies: pm,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/v1/policies", s.handlePolicies)
	mux.HandleFunc("POST /api/v1/policies/reload", s.handleReload)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.registry))
	}

	var h http.Handler = mux
	h = s.recoverPanics(h)
	h = s.logRequests(h)
	h = s.requestID(h)
	return h
}

// ListenAndServe blocks until the server is shut down. A clean shutdown
// returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. If Shutdown has already been called it
// closes ln and returns nil without serving.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address once Serve has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests, bounded by the configured timeout.
// A later Serve returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return srv.Shutdown(ctx)
}
