package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKSTORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKSTORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "TICKSTORE_STORAGE_BACKEND")
	setStr(&cfg.Storage.Cache, "TICKSTORE_STORAGE_CACHE")
	setBool(&cfg.Storage.Archive, "TICKSTORE_STORAGE_ARCHIVE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TICKSTORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TICKSTORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKSTORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKSTORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKSTORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKSTORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKSTORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKSTORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKSTORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKSTORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TICKSTORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKSTORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKSTORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKSTORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKSTORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKSTORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TICKSTORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKSTORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKSTORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKSTORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKSTORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKSTORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKSTORE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "TICKSTORE_S3_PREFIX")

	// ── Feed ──
	setBool(&cfg.Feed.Enabled, "TICKSTORE_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "TICKSTORE_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Instruments, "TICKSTORE_FEED_INSTRUMENTS")

	// ── Tiering ──
	setDuration(&cfg.Tiering.Interval, "TICKSTORE_TIERING_INTERVAL")
	setDuration(&cfg.Tiering.LockTTL, "TICKSTORE_TIERING_LOCK_TTL")

	// ── Vault ──
	setStr(&cfg.Vault.Passphrase, "TICKSTORE_VAULT_PASSPHRASE")
	setStr(&cfg.Vault.KeyID, "TICKSTORE_VAULT_KEY_ID")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKSTORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKSTORE_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKSTORE_MODE")
	setStr(&cfg.LogLevel, "TICKSTORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
