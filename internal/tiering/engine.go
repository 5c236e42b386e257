// Package tiering runs the age-based compression and retention policies
// against the ledger as independent background tasks per series family.
package tiering

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/ledger"
)

// Config holds the engine schedule.
type Config struct {
	// Interval between tiering passes per series.
	Interval time.Duration
	// LockTTL bounds how long a pass may hold the advisory lock.
	LockTTL time.Duration
}

// Engine periodically compresses aged chunks and drops expired ones. Each
// series family runs on its own schedule; a failing chunk is logged and
// retried on the next pass without blocking the rest of the series.
type Engine struct {
	ledger   *ledger.Ledger
	locks    domain.LockManager   // optional, nil when running single-instance
	archiver domain.ChunkArchiver // optional, nil disables archive-before-drop
	cfg      Config
	nowFn    func() time.Time
	logger   *slog.Logger
}

// New creates an Engine. locks and archiver may be nil.
func New(l *ledger.Ledger, locks domain.LockManager, archiver domain.ChunkArchiver, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 4 * time.Minute
	}
	return &Engine{
		ledger:   l,
		locks:    locks,
		archiver: archiver,
		cfg:      cfg,
		nowFn:    time.Now,
		logger:   logger.With(slog.String("component", "tiering")),
	}
}

// Run starts one loop per series family and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, kind := range domain.AllSeriesKinds {
		g.Go(func() error {
			return e.runSeries(ctx, kind)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (e *Engine) runSeries(ctx context.Context, kind domain.SeriesKind) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runPass(ctx, kind)
		}
	}
}

// runPass takes the advisory lock when configured and performs one tiering
// pass. Lock contention means another replica is tiering this series; skip.
func (e *Engine) runPass(ctx context.Context, kind domain.SeriesKind) {
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "tiering:"+string(kind), e.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				e.logger.WarnContext(ctx, "tiering lock failed",
					slog.String("series", string(kind)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		defer unlock()
	}

	if err := e.Pass(ctx, kind, e.nowFn()); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.WarnContext(ctx, "tiering pass failed",
			slog.String("series", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Pass runs compression then retention for one series at the given wall
// clock. Compression eligibility is always evaluated before any drop, so no
// chunk is evicted before it became eligible for compaction. Both phases are
// idempotent; Pass is exported for schedulers and tests. Cancellation takes
// effect between chunks, never mid-chunk.
func (e *Engine) Pass(ctx context.Context, kind domain.SeriesKind, now time.Time) error {
	if _, err := e.ledger.CompressEligible(ctx, kind, now); err != nil {
		return err
	}

	for _, ref := range e.ledger.ExpiredChunks(kind, now) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.dropChunk(ctx, ref, now); err != nil {
			// Failure domain is the chunk: log, move on, retry next pass.
			e.logger.WarnContext(ctx, "chunk eviction failed",
				slog.String("series", string(kind)),
				slog.Time("start", ref.Start),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (e *Engine) dropChunk(ctx context.Context, ref ledger.ChunkRef, now time.Time) error {
	if e.archiver != nil {
		recs := e.ledger.ChunkRecords(ref.Kind, ref.Start)
		if len(recs) > 0 {
			path, err := e.archiver.ArchiveChunk(ctx, ref.Kind, ref.Start, ref.End, recs)
			if err != nil {
				return err
			}
			e.logger.InfoContext(ctx, "archived chunk before eviction",
				slog.String("series", string(ref.Kind)),
				slog.String("path", path),
			)
		}
	}
	return e.ledger.DropChunk(ref.Kind, ref.Start, now)
}
