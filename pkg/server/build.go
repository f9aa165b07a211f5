package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Hyperpolymath/consent-aware-http/pkg/config"
	"github.com/Hyperpolymath/consent-aware-http/pkg/middleware"
	"github.com/Hyperpolymath/consent-aware-http/pkg/policy"
	"github.com/Hyperpolymath/consent-aware-http/pkg/store"
	"github.com/Hyperpolymath/consent-aware-http/pkg/telemetry"
)

// Runtime is a server assembled from configuration together with the
// resources it owns.
type Runtime struct {
	Server  *Server
	Cache   *store.Cache
	Engine  *policy.Engine
	Metrics *telemetry.Metrics

	closers []io.Closer
}

// Close releases the manifest source.
func (r *Runtime) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build wires the manifest source, cache, condition checkers, engine and
// metrics described by cfg. The file watch, when enabled, runs until ctx is
// cancelled.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, onViolation middleware.ViolationFunc) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{Metrics: telemetry.NewMetrics(HealthPath, cfg.Metrics.Path, "/", "/article.html", "/public.html")}

	source, err := newSource(cfg.Manifest)
	if err != nil {
		return nil, err
	}
	if closer, ok := source.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}

	rt.Cache = store.NewCache(source, store.CacheOptions{
		TTL:      cfg.Manifest.CacheTTL,
		Logger:   logger,
		Observer: rt.Metrics,
	})

	if fileSource, ok := source.(*store.FileSource); ok && cfg.Manifest.Watch {
		if err := rt.Cache.WatchFile(ctx, fileSource.Path()); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("watch manifest: %w", err)
		}
		logger.Info("Watching AIBDP manifest for changes", "path", fileSource.Path())
	}

	checker, err := newConditionChecker(ctx, cfg.Enforcement, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Engine = policy.NewEngine(policy.EngineOptions{
		Conditions:    checker,
		EnforceForAll: cfg.Enforcement.EnforceForAll,
		Logger:        logger,
	})

	// Warm the cache so the first request does not pay for the load. A
	// failure here is already logged and leaves enforcement disabled.
	_ = rt.Cache.Reload(ctx)

	rt.Server = New(Options{
		Config:      cfg,
		Cache:       rt.Cache,
		Engine:      rt.Engine,
		Metrics:     rt.Metrics,
		OnViolation: onViolation,
		Logger:      logger,
	})
	return rt, nil
}

func newSource(cfg config.ManifestConfig) (store.Source, error) {
	if cfg.RedisURL != "" {
		src, err := store.NewRedisSource(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("manifest redis source: %w", err)
		}
		return src, nil
	}
	src, err := store.NewFileSource(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("manifest file source: %w", err)
	}
	return src, nil
}

func newConditionChecker(ctx context.Context, cfg config.EnforcementConfig, logger *slog.Logger) (policy.ConditionChecker, error) {
	if cfg.RegoFile == "" {
		return policy.HeaderConditions{}, nil
	}
	rego, err := policy.LoadRegoConditions(ctx, cfg.RegoFile, cfg.RegoQuery, logger)
	if err != nil {
		return nil, fmt.Errorf("enforcement rego: %w", err)
	}
	return policy.NewConditionChain(policy.HeaderConditions{}, rego), nil
}
