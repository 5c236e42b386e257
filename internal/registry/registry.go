// Package registry manages strategy registrations: identity, configuration,
// enablement, and execution mode.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/quantforge/tickstore/internal/domain"
)

// StrategySpec describes a strategy to register.
type StrategySpec struct {
	ID          string
	Name        string
	Description *string
	ClassName   string
	Config      map[string]any
	Mode        domain.ExecutionMode
}

// Registry is the strategy registry service.
type Registry struct {
	store  domain.StrategyStore
	logger *slog.Logger
}

// New creates a Registry.
func New(store domain.StrategyStore, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With(slog.String("component", "registry")),
	}
}

// Register creates a disabled strategy. New strategies start disabled so an
// operator enables them explicitly after review.
func (r *Registry) Register(ctx context.Context, spec StrategySpec) (domain.Strategy, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return domain.Strategy{}, fmt.Errorf("registry: empty strategy id")
	}
	if spec.ClassName == "" {
		return domain.Strategy{}, fmt.Errorf("registry: empty class name for %s", id)
	}
	mode := spec.Mode
	if mode == "" {
		mode = domain.ModePaper
	}
	if !mode.Valid() {
		return domain.Strategy{}, fmt.Errorf("registry: unknown execution mode %q", spec.Mode)
	}

	now := time.Now().UTC()
	s := domain.Strategy{
		ID:          id,
		Name:        spec.Name,
		Description: spec.Description,
		ClassName:   spec.ClassName,
		Config:      maps.Clone(spec.Config),
		Enabled:     false,
		Mode:        mode,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Create(ctx, s); err != nil {
		return domain.Strategy{}, fmt.Errorf("registry: register %s: %w", id, err)
	}

	r.logger.InfoContext(ctx, "strategy registered",
		slog.String("strategy_id", id),
		slog.String("class", spec.ClassName),
		slog.String("mode", string(mode)),
	)
	return s, nil
}

// Get retrieves a strategy by id.
func (r *Registry) Get(ctx context.Context, id string) (domain.Strategy, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("registry: get %s: %w", id, err)
	}
	return s, nil
}

// UpdateConfig replaces the strategy's configuration blob.
func (r *Registry) UpdateConfig(ctx context.Context, id string, config map[string]any) error {
	if err := r.store.UpdateConfig(ctx, id, maps.Clone(config)); err != nil {
		return fmt.Errorf("registry: update config %s: %w", id, err)
	}
	r.logger.InfoContext(ctx, "strategy config updated", slog.String("strategy_id", id))
	return nil
}

// SetEnabled flips the strategy's enabled flag.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := r.store.SetEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("registry: set enabled %s: %w", id, err)
	}
	r.logger.InfoContext(ctx, "strategy enablement changed",
		slog.String("strategy_id", id),
		slog.Bool("enabled", enabled),
	)
	return nil
}

// SetExecutionMode switches a strategy between paper and live execution.
func (r *Registry) SetExecutionMode(ctx context.Context, id string, mode domain.ExecutionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("registry: unknown execution mode %q", mode)
	}
	if err := r.store.SetExecutionMode(ctx, id, mode); err != nil {
		return fmt.Errorf("registry: set mode %s: %w", id, err)
	}
	r.logger.InfoContext(ctx, "strategy mode changed",
		slog.String("strategy_id", id),
		slog.String("mode", string(mode)),
	)
	return nil
}

// List returns every registered strategy.
func (r *Registry) List(ctx context.Context) ([]domain.Strategy, error) {
	return r.store.List(ctx)
}

// ListEnabled returns the strategies currently eligible to trade.
func (r *Registry) ListEnabled(ctx context.Context) ([]domain.Strategy, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	out := all[:0:0]
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}
