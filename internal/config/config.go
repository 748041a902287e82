package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir  = ".promptshield"
	DefaultConfigFile = "config.yaml"
	DefaultLedgerFile = "ledger.jsonl"

	envPrefix = "PROMPTSHIELD_"
)

type Config struct {
	ConfigDir string          `yaml:"-"`
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Policy    PolicyConfig    `yaml:"policy"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	ML        MLConfig        `yaml:"ml"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CacheConfig selects and tunes the verdict cache backend.
type CacheConfig struct {
	Backend         string        `yaml:"backend"` // memory | redis
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	TTL             time.Duration `yaml:"ttl"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
	MemoryCapacity  int           `yaml:"memory_capacity"`
	FullFingerprint bool          `yaml:"full_fingerprint"`
}

type PolicyConfig struct {
	// Path to the policy YAML. Empty means the built-in policy set.
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// RateLimitConfig configures the per-agent request counter.
type RateLimitConfig struct {
	Backend  string        `yaml:"backend"` // local | redis
	Max      int           `yaml:"max"`
	Window   time.Duration `yaml:"window"`
	Capacity int           `yaml:"capacity"`
}

type MLConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:        "memory",
			TTL:            time.Hour,
			OpTimeout:      250 * time.Millisecond,
			MemoryCapacity: 50000,
		},
		Policy: PolicyConfig{Watch: true},
		RateLimit: RateLimitConfig{
			Backend:  "local",
			Max:      100,
			Window:   time.Hour,
			Capacity: 10000,
		},
		ML: MLConfig{Timeout: 2 * time.Second},
		Audit: AuditConfig{
			Enabled:   true,
			QueueSize: 1024,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config file (if any), applies PROMPTSHIELD_* environment
// overrides, and validates the result. An empty path falls back to
// ~/.promptshield/config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		cfg.ConfigDir = filepath.Join(homeDir, DefaultConfigDir)
	}

	if path == "" && cfg.ConfigDir != "" {
		path = filepath.Join(cfg.ConfigDir, DefaultConfigFile)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if cfg.Audit.Path == "" && cfg.ConfigDir != "" {
		cfg.Audit.Path = filepath.Join(cfg.ConfigDir, DefaultLedgerFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required when cache.backend=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.OpTimeout <= 0 {
		errs = append(errs, errors.New("cache.op_timeout must be positive"))
	}

	switch c.RateLimit.Backend {
	case "local":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("ratelimit.backend=redis requires cache.redis_addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend))
	}
	if c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("ratelimit.max must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("ratelimit.window must be positive"))
	}

	if c.ML.Endpoint != "" && c.ML.Timeout <= 0 {
		errs = append(errs, errors.New("ml.timeout must be positive when ml.endpoint is set"))
	}
	if c.Audit.Enabled && c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("audit.queue_size must be positive"))
	}

	return errors.Join(errs...)
}

// EnsureDir creates the config directory if it does not exist.
func (c *Config) EnsureDir() error {
	if c.ConfigDir == "" {
		return nil
	}
	if _, err := os.Stat(c.ConfigDir); os.IsNotExist(err) {
		return os.MkdirAll(c.ConfigDir, 0700)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v := strings.TrimSpace(getenv(envPrefix + name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Server.Addr)
	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	integer("REDIS_DB", &cfg.Cache.RedisDB)
	duration("CACHE_TTL", &cfg.Cache.TTL)
	duration("CACHE_OP_TIMEOUT", &cfg.Cache.OpTimeout)
	boolean("CACHE_FULL_FINGERPRINT", &cfg.Cache.FullFingerprint)
	str("POLICY_PATH", &cfg.Policy.Path)
	boolean("POLICY_WATCH", &cfg.Policy.Watch)
	str("RATELIMIT_BACKEND", &cfg.RateLimit.Backend)
	integer("RATELIMIT_MAX", &cfg.RateLimit.Max)
	duration("RATELIMIT_WINDOW", &cfg.RateLimit.Window)
	str("ML_ENDPOINT", &cfg.ML.Endpoint)
	duration("ML_TIMEOUT", &cfg.ML.Timeout)
	boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	str("AUDIT_PATH", &cfg.Audit.Path)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)

	return errors.Join(errs...)
}
