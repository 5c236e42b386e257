// Package config defines the top-level configuration for the tickstore
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TICKSTORE_* environment variables.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Tiering   TieringConfig   `toml:"tiering"`
	Retention RetentionConfig `toml:"retention"`
	Vault     VaultConfig     `toml:"vault"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StorageConfig selects the backing implementations for state and caching.
type StorageConfig struct {
	// Backend selects the trading-state store: "memory" or "postgres".
	Backend string `toml:"backend"`
	// Cache selects the latest-price cache: "memory" or "redis".
	Cache string `toml:"cache"`
	// Archive enables archiving expired chunks to object storage before the
	// retention pass drops them.
	Archive bool `toml:"archive"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archive tier.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// FeedConfig holds the market-data websocket feed parameters.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	// Instruments lists the instrument IDs to subscribe to on connect.
	Instruments []string `toml:"instruments"`
}

// TieringConfig holds the compression/retention engine schedule.
type TieringConfig struct {
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// RetentionConfig carries optional per-series overrides of the stock storage
// policies. A zero field leaves the default in place.
type RetentionConfig struct {
	Ticks         PolicyConfig `toml:"ticks"`
	Candles       PolicyConfig `toml:"candles"`
	BookSnapshots PolicyConfig `toml:"book_snapshots"`
	OpenInterest  PolicyConfig `toml:"open_interest"`
	DailyBars     PolicyConfig `toml:"daily_bars"`
}

// PolicyConfig overrides a single series policy. Durations use Go syntax
// ("1h", "720h").
type PolicyConfig struct {
	ChunkWidth    duration `toml:"chunk_width"`
	CompressAfter duration `toml:"compress_after"`
	RetainFor     duration `toml:"retain_for"`
}

// VaultConfig holds the credential-sealing parameters.
type VaultConfig struct {
	// Passphrase derives the sealing key. Required when credentials are used.
	Passphrase string `toml:"passphrase"`
	// KeyID labels sealed envelopes so the passphrase can be rotated.
	KeyID string `toml:"key_id"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "memory",
			Cache:   "memory",
			Archive: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tickstore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickstore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			Prefix:         "archive",
		},
		Feed: FeedConfig{
			Enabled: false,
			WsURL:   "",
		},
		Tiering: TieringConfig{
			Interval: duration{5 * time.Minute},
			LockTTL:  duration{4 * time.Minute},
		},
		Vault: VaultConfig{
			KeyID: "v1",
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":  true,
	"ingest": true,
	"paper":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validBackends enumerates the accepted values for Storage.Backend.
var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validCaches enumerates the accepted values for Storage.Cache.
var validCaches = map[string]bool{
	"memory": true,
	"redis":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, ingest, paper, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	if !validBackends[strings.ToLower(c.Storage.Backend)] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}
	if !validCaches[strings.ToLower(c.Storage.Cache)] {
		errs = append(errs, fmt.Sprintf("storage: unknown cache %q (valid: memory, redis)", c.Storage.Cache))
	}

	// Postgres — only required when selected as the state backend.
	if strings.EqualFold(c.Storage.Backend, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis — only required when selected as the price cache.
	if strings.EqualFold(c.Storage.Cache, "redis") {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 — only required when archiving is enabled.
	if c.Storage.Archive {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when storage.archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when storage.archive is enabled")
		}
	}

	// Feed
	if c.Feed.Enabled {
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty when the feed is enabled")
		}
		if len(c.Feed.Instruments) == 0 {
			errs = append(errs, "feed: at least one instrument must be listed when the feed is enabled")
		}
	}

	// Tiering
	if c.Tiering.Interval.Duration < 0 {
		errs = append(errs, "tiering: interval must not be negative")
	}
	if c.Tiering.LockTTL.Duration < 0 {
		errs = append(errs, "tiering: lock_ttl must not be negative")
	}

	// Retention overrides: a partially-specified override is almost always a
	// mistake, and retain_for must not undercut compress_after.
	for _, p := range []struct {
		name string
		cfg  PolicyConfig
	}{
		{"ticks", c.Retention.Ticks},
		{"candles", c.Retention.Candles},
		{"book_snapshots", c.Retention.BookSnapshots},
		{"open_interest", c.Retention.OpenInterest},
		{"daily_bars", c.Retention.DailyBars},
	} {
		if p.cfg.CompressAfter.Duration > 0 && p.cfg.RetainFor.Duration > 0 &&
			p.cfg.RetainFor.Duration < p.cfg.CompressAfter.Duration {
			errs = append(errs, fmt.Sprintf("retention.%s: retain_for %v is shorter than compress_after %v",
				p.name, p.cfg.RetainFor.Duration, p.cfg.CompressAfter.Duration))
		}
		if p.cfg.ChunkWidth.Duration < 0 || p.cfg.CompressAfter.Duration < 0 || p.cfg.RetainFor.Duration < 0 {
			errs = append(errs, fmt.Sprintf("retention.%s: durations must not be negative", p.name))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
