package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Guard.RosterTTL != 5*time.Second {
		t.Errorf("expected roster ttl 5s, got %v", cfg.Guard.RosterTTL)
	}
	if cfg.Identity.Driver != "local" {
		t.Errorf("expected identity driver local, got %s", cfg.Identity.Driver)
	}
	if len(cfg.Provisioning.ReservedSlugs) == 0 {
		t.Error("expected reserved slugs to be populated")
	}
}

func TestDefaults_ReservedSlugsAreCopied(t *testing.T) {
	a := Defaults()
	a.Provisioning.ReservedSlugs[0] = "mutated"
	b := Defaults()
	if b.Provisioning.ReservedSlugs[0] == "mutated" {
		t.Fatal("defaults share the reserved slug backing array")
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
postgres:
  max_conns: 20
logging:
  level: "debug"
provisioning:
  reserved_slugs: ["admin", "ops"]
identity:
  driver: http
  base_url: https://id.example
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Provisioning.ReservedSlugs) != 2 || cfg.Provisioning.ReservedSlugs[1] != "ops" {
		t.Errorf("expected reserved slugs [admin ops], got %v", cfg.Provisioning.ReservedSlugs)
	}
	if cfg.Identity.Driver != "http" || cfg.Identity.BaseURL != "https://id.example" {
		t.Errorf("unexpected identity config %+v", cfg.Identity)
	}
	// Unchanged fields keep defaults
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %s", cfg.NATS.URL)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TENANTFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("TENANTFORGE_PG_MAX_CONNS", "25")
	t.Setenv("TENANTFORGE_LOG_LEVEL", "warn")
	t.Setenv("TENANTFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("TENANTFORGE_RESERVED_SLUGS", " admin, billing ,,root")
	t.Setenv("TENANTFORGE_CACHE_L2_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "cache:6379")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	want := []string{"admin", "billing", "root"}
	if len(cfg.Provisioning.ReservedSlugs) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Provisioning.ReservedSlugs)
	}
	for i := range want {
		if cfg.Provisioning.ReservedSlugs[i] != want[i] {
			t.Errorf("slug %d: expected %q, got %q", i, want[i], cfg.Provisioning.ReservedSlugs[i])
		}
	}
	if cfg.Cache.L2Driver != "redis" || cfg.Cache.RedisAddr != "cache:6379" {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Postgres.MaxConns = 0 },
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
		{
			name:   "http identity without url",
			modify: func(c *Config) { c.Identity.Driver = "http" },
			errMsg: "identity.base_url is required for the http driver",
		},
		{
			name:   "unknown identity driver",
			modify: func(c *Config) { c.Identity.Driver = "ldap" },
			errMsg: `identity.driver "ldap": must be local or http`,
		},
		{
			name:   "unknown cache driver",
			modify: func(c *Config) { c.Cache.L2Driver = "memcached" },
			errMsg: `cache.l2_driver "memcached": must be none, nats or redis`,
		},
		{
			name:   "nats cache without nats",
			modify: func(c *Config) { c.Cache.L2Driver = "nats"; c.NATS.URL = "" },
			errMsg: "cache.l2_driver nats requires nats.url",
		},
		{
			name:   "stale window not above tx timeout",
			modify: func(c *Config) { c.Provisioning.StaleAfter = c.Provisioning.TxTimeout },
			errMsg: "provisioning.stale_after must exceed provisioning.tx_timeout",
		},
		{
			name:   "zero roster ttl",
			modify: func(c *Config) { c.Guard.RosterTTL = 0 },
			errMsg: "guard.roster_ttl must be > 0",
		},
		{
			name:   "auth without secret",
			modify: func(c *Config) { c.Auth.Enabled = true },
			errMsg: "auth.jwt_secret is required when auth is enabled",
		},
		{
			name:   "zero reconcile batch",
			modify: func(c *Config) { c.Reconcile.BatchSize = 0 },
			errMsg: "reconcile.batch_size must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
