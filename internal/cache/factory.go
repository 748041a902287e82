package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Options selects and tunes a cache backend.
type Options struct {
	Backend        string // memory | redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	TTL            time.Duration
	OpTimeout      time.Duration
	MemoryCapacity int
}

// New builds a Cache for the configured backend.
func New(opts Options, logger *zap.Logger, observer Observer) (*Cache, error) {
	var backend Backend
	switch opts.Backend {
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("cache: redis backend requires an address")
		}
		backend = NewRedis(RedisOptions{
			Addr:        opts.RedisAddr,
			Password:    opts.RedisPassword,
			DB:          opts.RedisDB,
			DialTimeout: opts.OpTimeout,
			MaxRetries:  1,
		})
	case "memory", "":
		backend = NewMemory(opts.MemoryCapacity)
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}

	return NewCache(backend,
		WithTTL(opts.TTL),
		WithOpTimeout(opts.OpTimeout),
		WithLogger(logger),
		WithObserver(observer),
	), nil
}
