package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantforge/tickstore/internal/broker"
	"github.com/quantforge/tickstore/internal/catalog"
	"github.com/quantforge/tickstore/internal/crypto"
	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/feed"
	"github.com/quantforge/tickstore/internal/lifecycle"
	"github.com/quantforge/tickstore/internal/positions"
	"github.com/quantforge/tickstore/internal/registry"
	"github.com/quantforge/tickstore/internal/server"
	"github.com/quantforge/tickstore/internal/tiering"
)

// services bundles the domain services built on top of the wired stores.
type services struct {
	catalog    *catalog.Catalog
	positions  *positions.Ledger
	lifecycle  *lifecycle.Manager
	strategies *registry.Registry
	vault      *crypto.Vault // nil when no vault passphrase is configured
}

// buildServices constructs the domain service layer from the wired stores.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	posLedger := positions.New(deps.Positions, deps.Audit, a.logger)

	s := &services{
		catalog:    catalog.New(deps.Instruments, a.logger),
		positions:  posLedger,
		lifecycle:  lifecycle.New(deps.Orders, deps.Strategies, deps.Instruments, posLedger, a.logger),
		strategies: registry.New(deps.Strategies, a.logger),
	}

	if a.cfg.Vault.Passphrase != "" {
		sealer, err := crypto.NewSealer(a.cfg.Vault.Passphrase, a.cfg.Vault.KeyID)
		if err != nil {
			return nil, fmt.Errorf("app: vault sealer: %w", err)
		}
		s.vault = crypto.NewVault(sealer, deps.Credentials)
	}

	return s, nil
}

// ServeMode runs the store as a standalone service: the tiering engine plus
// the operational HTTP surface.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startTiering(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// IngestMode runs the market-data feed into the ledger alongside the tiering
// engine and HTTP surface.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startFeed(ctx, g, deps); err != nil {
		return err
	}
	a.startTiering(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// PaperMode runs ingest plus a paper broker: feed ticks fan out to the
// broker's data subscribers, and every fill the broker reports is applied to
// the order lifecycle and position ledger.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	f, err := a.startFeed(ctx, g, deps)
	if err != nil {
		return err
	}

	paper := broker.NewPaper(deps.PriceCache, a.logger)
	paper.OnFill(func(ctx context.Context, fill domain.Fill) {
		if _, err := svcs.lifecycle.ApplyFill(ctx, fill.OrderID, fill.Quantity, fill.Price); err != nil {
			a.logger.WarnContext(ctx, "apply fill",
				slog.String("order_id", fill.OrderID),
				slog.String("error", err.Error()),
			)
		}
	})
	if f != nil {
		f.OnTick(paper.HandleTick)
	}

	a.startPositionMarking(ctx, g, svcs.positions, deps.PriceCache)
	a.startTiering(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: ingest, paper broker, tiering, and the HTTP
// surface.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.PaperMode(ctx, deps)
}

// startFeed starts the websocket feed when one is configured. It returns the
// feed so callers can attach tick handlers, or nil when the feed is disabled.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*feed.Feed, error) {
	if !a.cfg.Feed.Enabled {
		a.logger.InfoContext(ctx, "feed disabled; ledger accepts writes through the API only")
		return nil, nil
	}

	f := feed.New(a.cfg.Feed.WsURL, a.cfg.Feed.Instruments, deps.Ledger, deps.PriceCache, a.logger)
	g.Go(func() error {
		defer f.Close()
		return f.Run(ctx)
	})
	return f, nil
}

// markInterval is how often open positions are revalued against the price
// cache.
const markInterval = 30 * time.Second

// startPositionMarking periodically marks every open position to market from
// the cached last prices.
func (a *App) startPositionMarking(ctx context.Context, g *errgroup.Group, pos *positions.Ledger, prices domain.PriceCache) {
	g.Go(func() error {
		ticker := time.NewTicker(markInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := pos.MarkOpenPositions(ctx, prices); err != nil {
					a.logger.WarnContext(ctx, "mark open positions",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startTiering starts the compression/retention engine.
func (a *App) startTiering(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	engine := tiering.New(deps.Ledger, deps.Locks, deps.Archiver, tiering.Config{
		Interval: a.cfg.Tiering.Interval.Duration,
		LockTTL:  a.cfg.Tiering.LockTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		return engine.Run(ctx)
	})
}

// startServer starts the operational HTTP server when enabled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, deps.Ledger, deps.Pingers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
