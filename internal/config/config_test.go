package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Storage.Backend = "sqlite"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"unknown mode", "unknown backend", "port must be"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidatePostgresOnlyWhenSelected(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory backend must not require postgres settings: %v", err)
	}

	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres backend with empty host/database must fail validation")
	}

	cfg.Postgres.DSN = "postgres://u:p@db:5432/tickstore"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("an explicit DSN must satisfy the postgres section: %v", err)
	}
}

func TestValidateFeedRequiresURLAndInstruments(t *testing.T) {
	cfg := Defaults()
	cfg.Feed.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("enabled feed without ws_url must fail validation")
	}

	cfg.Feed.WsURL = "wss://feed.example.com/ws"
	cfg.Feed.Instruments = []string{"inst-1"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRetentionOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Retention.Ticks.CompressAfter = duration{48 * time.Hour}
	cfg.Retention.Ticks.RetainFor = duration{24 * time.Hour}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "retention.ticks") {
		t.Fatalf("got %v, want retention.ticks ordering error", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKSTORE_MODE", "paper")
	t.Setenv("TICKSTORE_STORAGE_BACKEND", "postgres")
	t.Setenv("TICKSTORE_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("TICKSTORE_TIERING_INTERVAL", "90s")
	t.Setenv("TICKSTORE_FEED_INSTRUMENTS", "inst-1, inst-2 ,")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "paper" {
		t.Errorf("Mode = %q, want paper", cfg.Mode)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("Backend = %q, want postgres", cfg.Storage.Backend)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Errorf("Password = %q, want hunter2", cfg.Postgres.Password)
	}
	if cfg.Tiering.Interval.Duration != 90*time.Second {
		t.Errorf("Interval = %v, want 90s", cfg.Tiering.Interval.Duration)
	}
	if len(cfg.Feed.Instruments) != 2 || cfg.Feed.Instruments[1] != "inst-2" {
		t.Errorf("Instruments = %v, want [inst-1 inst-2]", cfg.Feed.Instruments)
	}
}

func TestEnvOverridesIgnoreEmptyAndMalformed(t *testing.T) {
	t.Setenv("TICKSTORE_SERVER_PORT", "not-a-number")
	t.Setenv("TICKSTORE_LOG_LEVEL", "")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want default 8000", cfg.Server.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Vault.Passphrase = "vault-secret"
	cfg.Feed.Instruments = []string{"inst-1"}

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" || red.Redis.Password != "***" ||
		red.S3.SecretKey != "***" || red.Vault.Passphrase != "***" {
		t.Fatal("secrets not redacted")
	}
	if cfg.Postgres.Password != "pg-secret" {
		t.Fatal("original config mutated")
	}

	red.Feed.Instruments[0] = "mutated"
	if cfg.Feed.Instruments[0] != "inst-1" {
		t.Fatal("redacted copy aliases the original instruments slice")
	}
}
