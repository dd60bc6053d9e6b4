package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenantforge.yaml"

// DefaultEnvFile is the dotenv file loaded before the environment overlay.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < .env < YAML < ENV.
// Both files are optional; missing files are not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < .env < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TENANTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TENANTFORGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TENANTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TENANTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TENANTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TENANTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TENANTFORGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "TENANTFORGE_NATS_STREAM")
	setString(&cfg.Logging.Level, "TENANTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TENANTFORGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "TENANTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TENANTFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "TENANTFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TENANTFORGE_RATE_BURST")
	setDuration(&cfg.Rate.MaxIdleTime, "TENANTFORGE_RATE_MAX_IDLE_TIME")

	// Identity service
	setString(&cfg.Identity.Driver, "TENANTFORGE_IDENTITY_DRIVER")
	setString(&cfg.Identity.BaseURL, "TENANTFORGE_IDENTITY_URL")
	setString(&cfg.Identity.ServiceKey, "TENANTFORGE_IDENTITY_SERVICE_KEY")
	setDuration(&cfg.Identity.Timeout, "TENANTFORGE_IDENTITY_TIMEOUT")
	setInt(&cfg.Identity.BcryptCost, "TENANTFORGE_IDENTITY_BCRYPT_COST")

	// SMTP
	setString(&cfg.SMTP.Host, "TENANTFORGE_SMTP_HOST")
	setInt(&cfg.SMTP.Port, "TENANTFORGE_SMTP_PORT")
	setString(&cfg.SMTP.From, "TENANTFORGE_SMTP_FROM")
	setString(&cfg.SMTP.Username, "TENANTFORGE_SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "TENANTFORGE_SMTP_PASSWORD")

	// Provisioning
	setDuration(&cfg.Provisioning.TxTimeout, "TENANTFORGE_TX_TIMEOUT")
	setDuration(&cfg.Provisioning.StaleAfter, "TENANTFORGE_STALE_AFTER")
	setList(&cfg.Provisioning.ReservedSlugs, "TENANTFORGE_RESERVED_SLUGS")
	setString(&cfg.Provisioning.SetupLinkURL, "TENANTFORGE_SETUP_LINK_URL")
	setDuration(&cfg.Guard.RosterTTL, "TENANTFORGE_ROSTER_TTL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "TENANTFORGE_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Driver, "TENANTFORGE_CACHE_L2_DRIVER")
	setString(&cfg.Cache.L2Bucket, "TENANTFORGE_CACHE_L2_BUCKET")
	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")

	// Auth
	setBool(&cfg.Auth.Enabled, "TENANTFORGE_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "TENANTFORGE_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "TENANTFORGE_JWT_ISSUER")

	// Telemetry
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTel.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTel.Insecure, "TENANTFORGE_OTEL_INSECURE")

	// Reconciler
	setDuration(&cfg.Reconcile.Interval, "TENANTFORGE_RECONCILE_INTERVAL")
	setInt(&cfg.Reconcile.BatchSize, "TENANTFORGE_RECONCILE_BATCH")

	// Alerts
	setString(&cfg.Alerts.SlackWebhookURL, "TENANTFORGE_ALERTS_SLACK_WEBHOOK_URL")
	setString(&cfg.Alerts.DiscordWebhookURL, "TENANTFORGE_ALERTS_DISCORD_WEBHOOK_URL")
	setList(&cfg.Alerts.Events, "TENANTFORGE_ALERTS_EVENTS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	switch cfg.Identity.Driver {
	case "local":
	case "http":
		if cfg.Identity.BaseURL == "" {
			return errors.New("identity.base_url is required for the http driver")
		}
	default:
		return fmt.Errorf("identity.driver %q: must be local or http", cfg.Identity.Driver)
	}
	switch cfg.Cache.L2Driver {
	case "none", "":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("cache.l2_driver nats requires nats.url")
		}
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.l2_driver %q: must be none, nats or redis", cfg.Cache.L2Driver)
	}
	if cfg.Provisioning.TxTimeout <= 0 {
		return errors.New("provisioning.tx_timeout must be > 0")
	}
	if cfg.Provisioning.StaleAfter <= cfg.Provisioning.TxTimeout {
		return errors.New("provisioning.stale_after must exceed provisioning.tx_timeout")
	}
	if cfg.Guard.RosterTTL <= 0 {
		return errors.New("guard.roster_ttl must be > 0")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if cfg.Reconcile.BatchSize < 1 {
		return errors.New("reconcile.batch_size must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
