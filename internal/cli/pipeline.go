package cli

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/audit"
	"github.com/gzhole/promptshield/internal/cache"
	"github.com/gzhole/promptshield/internal/config"
	"github.com/gzhole/promptshield/internal/guardian"
	"github.com/gzhole/promptshield/internal/metrics"
	"github.com/gzhole/promptshield/internal/policy"
	"github.com/gzhole/promptshield/internal/ratelimit"
	"github.com/gzhole/promptshield/internal/shield"
)

// pipeline is everything a command needs to produce verdicts.
type pipeline struct {
	registry   *prometheus.Registry
	cache      *cache.Cache
	engine     *policy.Engine
	shield     *shield.Shield
	redis      redis.UniversalClient
	ledger     *audit.Ledger
	dispatcher *audit.Dispatcher
}

type pipelineOptions struct {
	audit bool
}

func newPipeline(cfg *config.Config, logger *zap.Logger, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{registry: prometheus.NewRegistry()}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.NewRecorder(p.registry)

	c, err := cache.New(cache.Options{
		Backend:        cfg.Cache.Backend,
		RedisAddr:      cfg.Cache.RedisAddr,
		RedisPassword:  cfg.Cache.RedisPassword,
		RedisDB:        cfg.Cache.RedisDB,
		TTL:            cfg.Cache.TTL,
		OpTimeout:      cfg.Cache.OpTimeout,
		MemoryCapacity: cfg.Cache.MemoryCapacity,
	}, logger.Named("cache"), rec)
	if err != nil {
		return nil, err
	}
	p.cache = c

	p.engine = policy.NewEngine(cfg.Policy.Path,
		policy.WithCache(c),
		policy.WithLogger(logger.Named("policy")),
		policy.WithObserver(rec),
	)

	scorerOpts := []guardian.ScorerOption{
		guardian.WithCache(c),
		guardian.WithLogger(logger.Named("guardian")),
	}
	if cfg.Cache.FullFingerprint {
		scorerOpts = append(scorerOpts, guardian.WithKeyFunc(cache.FullKey))
	}
	if cfg.ML.Endpoint != "" {
		scorerOpts = append(scorerOpts, guardian.WithMLProvider(guardian.NewHTTPPredictor(cfg.ML.Endpoint, cfg.ML.Timeout)))
	}

	var counter ratelimit.Counter = ratelimit.NewLocal(cfg.RateLimit.Window, cfg.RateLimit.Capacity)
	if cfg.RateLimit.Backend == "redis" {
		p.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Cache.RedisAddr,
			Password:    cfg.Cache.RedisPassword,
			DB:          cfg.Cache.RedisDB,
			DialTimeout: cfg.Cache.OpTimeout,
			ReadTimeout: cfg.Cache.OpTimeout,
			MaxRetries:  1,
		})
		counter = ratelimit.NewRedis(p.redis, cfg.RateLimit.Window, counter, logger.Named("ratelimit"))
	}

	shieldOpts := []shield.Option{
		shield.WithCounter(counter),
		shield.WithLimit(ratelimit.Limit{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window}),
		shield.WithRecorder(rec),
		shield.WithLogger(logger.Named("shield")),
	}

	if opts.audit && cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			logger.Warn("audit enabled but no ledger path could be resolved, verdicts will not be recorded")
		} else {
			ledger, err := audit.Open(cfg.Audit.Path)
			if err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("failed to open audit ledger: %w", err)
			}
			p.ledger = ledger
			p.dispatcher = audit.NewDispatcher(ledger, cfg.Audit.QueueSize, logger.Named("audit"), rec)
			shieldOpts = append(shieldOpts, shield.WithAuditor(p.dispatcher))
		}
	}

	p.shield = shield.New(guardian.NewScorer(scorerOpts...), p.engine, shieldOpts...)
	return p, nil
}

// Close drains the audit queue before releasing connections.
func (p *pipeline) Close() error {
	var errs []error
	if p.dispatcher != nil {
		p.dispatcher.Close()
	}
	if p.ledger != nil {
		errs = append(errs, p.ledger.Close())
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	if p.cache != nil {
		errs = append(errs, p.cache.Close())
	}
	return errors.Join(errs...)
}
