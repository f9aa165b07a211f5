// Package server assembles the AIBDP demo site: a small set of pages behind
// the enforcement middleware, the published manifest, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Hyperpolymath/consent-aware-http/pkg/config"
	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
	"github.com/Hyperpolymath/consent-aware-http/pkg/middleware"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
	"github.com/Hyperpolymath/consent-aware-http/pkg/store"
	"github.com/Hyperpolymath/consent-aware-http/pkg/telemetry"
)

const (
	// HealthPath reports liveness and manifest state.
	HealthPath = "/health"

	defaultIdleTimeout = 120 * time.Second
	readHeaderTimeout  = 10 * time.Second
)

// Options carry the collaborators of a Server.
type Options struct {
	Config      *config.Config
	Cache       *store.Cache
	Engine      *policy.Engine
	Metrics     *telemetry.Metrics
	OnViolation middleware.ViolationFunc
	Logger      *slog.Logger
}

// HealthStatus is the /health document.
type HealthStatus struct {
	Status              string `json:"status"`
	AIBDPEnabled        bool   `json:"aibdp_enabled"`
	HTTP430Enabled      bool   `json:"http_430_enabled"`
	ManifestLoaded      bool   `json:"manifest_loaded"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// Server is the demo HTTP server.
type Server struct {
	cfg     *config.Config
	cache   *store.Cache
	metrics *telemetry.Metrics
	logger  *slog.Logger
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	stopOnce   sync.Once
}

// New builds the server and its handler chain.
func New(opts Options) *Server {
	s := &Server{
		cfg:     opts.Config,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	var manifests middleware.ManifestProvider
	if s.cache != nil {
		manifests = s.cache
	}
	var recorder middleware.DecisionRecorder
	if s.metrics != nil {
		recorder = s.metrics
	}

	enforcer := middleware.NewEnforcer(middleware.EnforcerOptions{
		Manifests:   manifests,
		Engine:      opts.Engine,
		OnViolation: opts.OnViolation,
		Metrics:     recorder,
		Logger:      s.logger,
	})

	mux := http.NewServeMux()
	mux.Handle(manifest.DefaultURI, middleware.ManifestHandler(manifests))
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics.Handler())
	}
	mux.Handle("/", enforcer.Wrap(siteHandler()))

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = s.metrics.MetricsMiddleware(handler)
	}
	handler = middleware.AccessLog(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)
	handler = middleware.RequestID(handler)
	s.handler = otelhttp.NewHandler(handler, "aibdp.http")

	return s
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health reports the server state.
func (s *Server) Health() HealthStatus {
	status := HealthStatus{
		Status:         "healthy",
		AIBDPEnabled:   true,
		HTTP430Enabled: true,
	}
	if s.cache == nil {
		return status
	}

	stats := s.cache.Stats()
	status.ManifestLoaded = stats.Loaded
	status.ConsecutiveFailures = stats.ConsecutiveFailures
	status.LastError = stats.LastError
	if stats.ConsecutiveFailures > 0 {
		status.Status = "degraded"
	}
	return status
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.Health())
}

// Start serves on the configured address until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		TLSConfig:         s.cfg.Server.TLS.ServerTLS(),
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "tls", srv.TLSConfig != nil)
		var serveErr error
		if srv.TLSConfig != nil {
			serveErr = srv.ServeTLS(ln, s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv == nil {
			return
		}
		s.logger.Info("Stopping HTTP server")
		if stopErr := srv.Shutdown(ctx); stopErr != nil {
			s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
			err = stopErr
		}
	})
	return err
}
