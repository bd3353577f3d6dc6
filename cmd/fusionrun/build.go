package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fusionrun/internal/cache"
	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/execution"
	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/feed"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/indicators"
	"github.com/sawpanic/fusionrun/internal/market"
	"github.com/sawpanic/fusionrun/internal/metrics"
	"github.com/sawpanic/fusionrun/internal/persistence"
	"github.com/sawpanic/fusionrun/internal/persistence/postgres"
	"github.com/sawpanic/fusionrun/internal/portfolio"
	"github.com/sawpanic/fusionrun/internal/risk"
)

// app is a fully wired engine plus the resources it holds open.
type app struct {
	engine  *engine.Engine
	ledger  *portfolio.Ledger
	metrics *metrics.Registry
	cache   *cache.RedisCache
	closers []func() error
}

// buildApp wires every component from cfg. A nil source selects the feed
// named in the config.
func buildApp(ctx context.Context, cfg *config.Config, source market.Feed) (*app, error) {
	a := &app{metrics: metrics.NewRegistry()}

	state, err := a.openState(ctx, cfg.Persistence)
	if err != nil {
		a.close()
		return nil, err
	}

	var publisher engine.Publisher
	if cfg.Cache.Enabled {
		rc, err := cache.NewRedisCache(cfg.Cache.Config)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect cache: %w", err)
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
		publisher = rc
	}

	if source == nil {
		if source, err = openFeed(cfg.Feed); err != nil {
			a.close()
			return nil, err
		}
	}

	a.ledger = portfolio.NewLedger(cfg.Portfolio)
	paper := execution.NewPaper(cfg.Execution.Paper)
	coord := execution.NewCoordinator(cfg.Execution.Config, a.ledger, paper, a.metrics)
	ev := exits.NewEvaluator(cfg.Exits)

	a.engine, err = engine.New(cfg.Engine, engine.Deps{
		Store:       market.NewStore(cfg.Market),
		Indicators:  indicators.NewSet(cfg.Indicators),
		Fusion:      fusion.NewEngine(cfg.Fusion),
		Exits:       ev,
		Sizer:       risk.NewSizer(cfg.Risk, ev),
		Ledger:      a.ledger,
		Coordinator: coord,
		State:       state,
		Cache:       publisher,
		Marks:       paper,
		Feed:        source,
		Metrics:     a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openState(ctx context.Context, cfg config.PersistenceConfig) (persistence.StateStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return persistence.NewFileStore(cfg.File.Path), nil
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return persistence.Nop{}, nil
	}
}

func openFeed(cfg config.FeedConfig) (market.Feed, error) {
	switch cfg.Source {
	case config.SourceReplay:
		return feed.LoadReplay(cfg.ReplayPath, cfg.ReplayDelay)
	case config.SourceKraken:
		return feed.NewKraken(cfg.Kraken), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Failed to release resources")
	}
	a.closers = nil
}
