package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Hyperpolymath/consent-aware-http/pkg/manifest"
)

const (
	// DefaultTTL is how long a loaded manifest is used before it is reloaded.
	DefaultTTL = time.Hour
	// DefaultRetryInterval spaces out reload attempts after a failure.
	DefaultRetryInterval = 30 * time.Second
	// DefaultLoadTimeout bounds a single fetch from the source.
	DefaultLoadTimeout = 10 * time.Second
)

// Observer is notified of every load attempt. err is nil on success.
type Observer interface {
	ObserveLoad(source string, err error)
}

// CacheOptions configure a Cache.
type CacheOptions struct {
	TTL           time.Duration
	RetryInterval time.Duration
	LoadTimeout   time.Duration
	Logger        *slog.Logger
	Observer      Observer
	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Stats describes the cache state for health reporting.
type Stats struct {
	Loaded              bool      `json:"manifest_loaded"`
	LoadedAt            time.Time `json:"loaded_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Cache holds the current manifest snapshot and reloads it from its Source
// once the snapshot expires. A failed load leaves no manifest in place, which
// disables enforcement until a later load succeeds.
type Cache struct {
	source   Source
	ttl      time.Duration
	retry    time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	// loadMu serialises loads so concurrent expiries fetch once.
	loadMu sync.Mutex

	mu        sync.RWMutex
	snapshot  *manifest.Manifest
	loadedAt  time.Time
	expiresAt time.Time
	failures  int
	lastErr   error
}

// NewCache creates a cache over source. Nothing is loaded until the first
// call to Current or Reload.
func NewCache(source Source, opts CacheOptions) *Cache {
	c := &Cache{
		source:   source,
		ttl:      opts.TTL,
		retry:    opts.RetryInterval,
		timeout:  opts.LoadTimeout,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.retry <= 0 {
		c.retry = DefaultRetryInterval
	}
	if c.retry > c.ttl {
		c.retry = c.ttl
	}
	if c.timeout <= 0 {
		c.timeout = DefaultLoadTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Current returns the manifest snapshot, reloading it first if it has
// expired. The result is nil when no manifest could be loaded. The returned
// manifest must be treated as read-only.
//
// The reload is detached from ctx: the request that happens to find the
// snapshot expired loads it for every other request, so its cancellation
// must not cut the load short.
func (c *Cache) Current(ctx context.Context) *manifest.Manifest {
	if m, fresh := c.fresh(); fresh {
		return m
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if m, fresh := c.fresh(); fresh {
		return m
	}
	_ = c.load(context.WithoutCancel(ctx))

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Reload fetches the manifest immediately, regardless of expiry. If ctx is
// cancelled before the fetch completes the current snapshot is kept and the
// attempt is not counted as a failure.
func (c *Cache) Reload(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.load(ctx)
}

// Invalidate marks the snapshot as expired so the next Current reloads it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// Stats reports the cache state.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Loaded:              c.snapshot != nil,
		LoadedAt:            c.loadedAt,
		ConsecutiveFailures: c.failures,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Source returns the backing source.
func (c *Cache) Source() Source {
	return c.source
}

func (c *Cache) fresh() (*manifest.Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, !c.expiresAt.IsZero() && c.now().Before(c.expiresAt)
}

func (c *Cache) load(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	m, err := c.fetch(fetchCtx)
	cancel()

	// Interrupted by the caller, not a verdict on the source.
	if err != nil && ctx.Err() != nil {
		c.logger.DebugContext(ctx, "AIBDP manifest load interrupted",
			"source", c.sourceName(),
			"error", err,
		)
		return err
	}

	now := c.now()

	if c.observer != nil {
		c.observer.ObserveLoad(c.sourceName(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.snapshot = nil
		c.loadedAt = time.Time{}
		c.expiresAt = now.Add(c.retry)
		c.failures++
		c.lastErr = err

		level := slog.LevelWarn
		if errors.Is(err, ErrManifestNotFound) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "AIBDP manifest unavailable, enforcement disabled",
			"source", c.sourceName(),
			"consecutive_failures", c.failures,
			"error", err,
		)
		return err
	}

	c.snapshot = m
	c.loadedAt = now
	c.expiresAt = now.Add(c.ttl)
	c.failures = 0
	c.lastErr = nil
	c.logger.DebugContext(ctx, "AIBDP manifest loaded",
		"source", c.sourceName(),
		"policies", len(m.Policies),
	)
	return nil
}

func (c *Cache) sourceName() string {
	if c.source == nil {
		return "none"
	}
	return c.source.Name()
}

func (c *Cache) fetch(ctx context.Context) (*manifest.Manifest, error) {
	if c.source == nil {
		return nil, ErrManifestNotFound
	}
	raw, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse manifest from %s: %w", c.sourceName(), err)
	}
	return m, nil
}
