package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("expected memory cache backend, got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h cache ttl, got %s", cfg.Cache.TTL)
	}
	if cfg.RateLimit.Max != 100 || cfg.RateLimit.Window != time.Hour {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  addr: ":9090"
cache:
  backend: redis
  redis_addr: "localhost:6379"
  ttl: 30m
ratelimit:
  max: 50
policy:
  path: /etc/promptshield/policies.yaml
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "localhost:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("ttl = %s", cfg.Cache.TTL)
	}
	// untouched fields keep defaults
	if cfg.Cache.OpTimeout != 250*time.Millisecond {
		t.Errorf("op timeout = %s", cfg.Cache.OpTimeout)
	}
	if cfg.RateLimit.Max != 50 || cfg.RateLimit.Window != time.Hour {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cache: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PROMPTSHIELD_ADDR":           ":7000",
		"PROMPTSHIELD_CACHE_TTL":      "90s",
		"PROMPTSHIELD_RATELIMIT_MAX":  "5",
		"PROMPTSHIELD_AUDIT_ENABLED":  "false",
		"PROMPTSHIELD_ML_ENDPOINT":    "http://ml:8001",
		"PROMPTSHIELD_UNRELATED_FLAG": "x",
	}
	cfg := Default()
	if err := applyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("ttl = %s", cfg.Cache.TTL)
	}
	if cfg.RateLimit.Max != 5 {
		t.Errorf("max = %d", cfg.RateLimit.Max)
	}
	if cfg.Audit.Enabled {
		t.Error("expected audit disabled")
	}
	if cfg.ML.Endpoint != "http://ml:8001" {
		t.Errorf("ml endpoint = %q", cfg.ML.Endpoint)
	}
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{
		"PROMPTSHIELD_CACHE_TTL":     "soon",
		"PROMPTSHIELD_RATELIMIT_MAX": "many",
	}
	err := applyEnv(Default(), func(k string) string { return env[k] })
	if err == nil {
		t.Fatal("expected errors for malformed env values")
	}
	for _, name := range []string{"CACHE_TTL", "RATELIMIT_MAX"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }, "cache.redis_addr"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "unknown cache.backend"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"zero max", func(c *Config) { c.RateLimit.Max = 0 }, "ratelimit.max"},
		{"redis counter without addr", func(c *Config) { c.RateLimit.Backend = "redis" }, "ratelimit.backend=redis"},
		{"ml timeout", func(c *Config) { c.ML.Endpoint = "http://x"; c.ML.Timeout = 0 }, "ml.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
