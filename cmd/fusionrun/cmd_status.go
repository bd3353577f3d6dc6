package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/fusionrun/internal/cache"
	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/persistence"
	"github.com/sawpanic/fusionrun/internal/persistence/postgres"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted portfolio",
		Long: `Reads the last saved state from the configured persistence backend and
prints balances, open positions and trade statistics. When the cache is
enabled, open positions are marked with the latest prices published there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			snap, err := loadSnapshot(ctx, cfg)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSummary(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	return cmd
}

// loadSnapshot reads persisted state without starting the engine.
func loadSnapshot(ctx context.Context, cfg *config.Config) (engine.Snapshot, error) {
	var store persistence.StateStore
	switch cfg.Persistence.Backend {
	case config.BackendFile:
		store = persistence.NewFileStore(cfg.Persistence.File.Path)
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.Persistence.Postgres)
		if err != nil {
			return engine.Snapshot{}, fmt.Errorf("failed to open state store: %w", err)
		}
		defer pg.Close()
		if hc := pg.Health(ctx); !hc.Healthy {
			log.Warn().Strs("errors", hc.Errors).Msg("State store unhealthy")
		}
		store = pg
	default:
		return engine.Snapshot{}, fmt.Errorf("persistence backend %q keeps no state", cfg.Persistence.Backend)
	}

	saved, ok, err := store.LoadState(ctx)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to load state: %w", err)
	}
	state := saved.Portfolio
	if !ok {
		state = portfolio.NewLedger(cfg.Portfolio).Snapshot()
	}

	marks := map[string]float64{}
	if cfg.Cache.Enabled && len(state.Positions) > 0 {
		marks = cachedMarks(ctx, cfg.Cache.Config, state)
	}
	return engine.Snapshot{
		State:   state,
		Metrics: portfolio.ComputeMetrics(state, marks),
		Marks:   marks,
	}, nil
}

func cachedMarks(ctx context.Context, cfg cache.Config, state portfolio.State) map[string]float64 {
	marks := map[string]float64{}
	rc, err := cache.NewRedisCache(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Cache unavailable, positions are not marked")
		return marks
	}
	defer rc.Close()

	for inst := range state.Positions {
		price, ok, err := rc.Mark(ctx, inst)
		if err != nil {
			log.Warn().Err(err).Str("instrument", inst).Msg("Failed to read mark")
			continue
		}
		if ok {
			marks[inst] = price
		}
	}
	return marks
}
