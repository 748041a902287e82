// Package cache stores computed verdict byproducts keyed by agent and prompt
// fingerprint.
//
// Every operation is best effort. Backend failures and timeouts are logged and
// surface to callers as a miss (reads) or a no-op (writes); the decision
// pipeline never sees a cache error.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is the lifetime of a cached verdict.
const DefaultTTL = time.Hour

// DefaultOpTimeout bounds a single backend call.
const DefaultOpTimeout = 250 * time.Millisecond

// NoExpiry as a Set ttl keeps the entry until it is overwritten, deleted or
// evicted.
const NoExpiry time.Duration = -1

// ErrNotFound is returned by backends when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Outcome classifies a cache lookup.
type Outcome string

const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeDegraded Outcome = "degraded"
)

// Result is the explicit outcome of a lookup. Degraded lookups carry no value.
type Result struct {
	Value   []byte
	Outcome Outcome
}

// Hit reports whether the lookup returned a value.
func (r Result) Hit() bool { return r.Outcome == OutcomeHit }

// Backend is the raw key/value store behind a Cache. Implementations return
// errors; Cache converts them into degraded outcomes. A zero ttl passed to
// Set means the entry does not expire.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Observer receives one call per lookup. The metrics recorder implements it.
type Observer interface {
	CacheLookup(outcome string)
}

// Cache wraps a Backend with bounded timeouts and fail-open semantics.
type Cache struct {
	backend   Backend
	ttl       time.Duration
	opTimeout time.Duration
	logger    *zap.Logger
	observer  Observer
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the default TTL applied when Set is called with ttl <= 0.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithOpTimeout bounds each backend call.
func WithOpTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// NewCache wraps backend. A nil backend yields an in-memory cache.
func NewCache(backend Backend, opts ...Option) *Cache {
	if backend == nil {
		backend = NewMemory(0)
	}
	c := &Cache{
		backend:   backend,
		ttl:       DefaultTTL,
		opTimeout: DefaultOpTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("backend", backend.Name()))
	return c
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// BackendName reports which store backs the cache.
func (c *Cache) BackendName() string { return c.backend.Name() }

// Lookup returns the value stored under key with an explicit outcome.
func (c *Cache) Lookup(ctx context.Context, key string) Result {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	value, err := c.backend.Get(ctx, key)
	var res Result
	switch {
	case err == nil:
		res = Result{Value: value, Outcome: OutcomeHit}
	case errors.Is(err, ErrNotFound):
		res = Result{Outcome: OutcomeMiss}
	default:
		c.logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		res = Result{Outcome: OutcomeDegraded}
	}
	if c.observer != nil {
		c.observer.CacheLookup(string(res.Outcome))
	}
	return res
}

// Get returns the value for key, or false when absent or unavailable.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	res := c.Lookup(ctx, key)
	return res.Value, res.Hit()
}

// Set stores value under key. NoExpiry stores it without a lifetime; any
// other ttl <= 0 uses the cache default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	switch {
	case ttl == NoExpiry:
		ttl = 0
	case ttl <= 0:
		ttl = c.ttl
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache set failed, skipping", zap.String("key", key), zap.Error(err))
	}
}

// Exists reports whether a live entry is stored under key.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	ok, err := c.backend.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (c *Cache) Delete(ctx context.Context, key string) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// FlushAll removes every entry in the backing store.
func (c *Cache) FlushAll(ctx context.Context) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Flush(ctx); err != nil {
		c.logger.Warn("cache flush failed", zap.Error(err))
	}
}

// HealthCheck pings the backend.
func (c *Cache) HealthCheck(ctx context.Context) bool {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := c.backend.Ping(ctx); err != nil {
		c.logger.Warn("cache health check failed", zap.Error(err))
		return false
	}
	return true
}

// GetJSON decodes the value under key into dst. A decode failure counts as a
// miss and evicts the corrupt entry.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache entry undecodable, evicting", zap.String("key", key), zap.Error(err))
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value not encodable", zap.String("key", key), zap.Error(err))
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.opTimeout)
}
