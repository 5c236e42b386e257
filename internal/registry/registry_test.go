package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/store/memory"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.NewStrategyStore(), logger)
}

func TestRegisterStartsDisabledPaper(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	s, err := r.Register(ctx, StrategySpec{
		ID:        "momentum_v1",
		Name:      "Momentum",
		ClassName: "MomentumStrategy",
		Config:    map[string]any{"lookback": 20},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if s.Enabled {
		t.Fatal("new strategy enabled by default")
	}
	if s.Mode != domain.ModePaper {
		t.Fatalf("mode = %s, want PAPER", s.Mode)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	spec := StrategySpec{ID: "s1", Name: "one", ClassName: "One"}
	if _, err := r.Register(ctx, spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, spec); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("duplicate register: %v, want ErrDuplicateKey", err)
	}
}

func TestConfigUpdateDoesNotAliasCaller(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	cfg := map[string]any{"threshold": 0.5}
	if _, err := r.Register(ctx, StrategySpec{ID: "s1", Name: "one", ClassName: "One", Config: cfg}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg["threshold"] = 99.0

	s, err := r.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Config["threshold"] != 0.5 {
		t.Fatalf("config aliased caller map: %v", s.Config["threshold"])
	}

	if err := r.UpdateConfig(ctx, "s1", map[string]any{"threshold": 0.7}); err != nil {
		t.Fatalf("update config: %v", err)
	}
	s, err = r.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Config["threshold"] != 0.7 {
		t.Fatalf("config = %v, want 0.7", s.Config["threshold"])
	}
	if !s.UpdatedAt.After(s.CreatedAt) && !s.UpdatedAt.Equal(s.CreatedAt) {
		t.Fatalf("updated_at %v before created_at %v", s.UpdatedAt, s.CreatedAt)
	}
}

func TestEnableAndModeSwitch(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	if _, err := r.Register(ctx, StrategySpec{ID: "s1", Name: "one", ClassName: "One"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.SetEnabled(ctx, "s1", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := r.SetExecutionMode(ctx, "s1", domain.ModeLive); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := r.SetExecutionMode(ctx, "s1", "DRY_RUN"); err == nil {
		t.Fatal("unknown mode accepted")
	}

	enabled, err := r.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "s1" || enabled[0].Mode != domain.ModeLive {
		t.Fatalf("enabled = %+v", enabled)
	}

	if err := r.SetEnabled(ctx, "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("enable missing: %v, want ErrNotFound", err)
	}
}
