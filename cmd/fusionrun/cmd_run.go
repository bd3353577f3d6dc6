package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/feed"
	httpserver "github.com/sawpanic/fusionrun/internal/interfaces/http"
	"github.com/sawpanic/fusionrun/internal/logging"
	"github.com/sawpanic/fusionrun/internal/market"
)

func newRunCmd(opts *options) *cobra.Command {
	var (
		replayPath string
		fresh      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the signal and position loops",
		Long: `Streams market data, fuses signals on every signal interval and monitors
open positions on every monitor interval until interrupted. With --replay the
recorded samples are processed one by one as fast as possible and the command
exits when the file is exhausted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if replayPath != "" {
				return runReplay(ctx, cmd.OutOrStdout(), cfg, replayPath, fresh)
			}
			return runLive(ctx, cfg, fresh)
		},
	}
	cmd.Flags().StringVar(&replayPath, "replay", "", "Process a recorded sample file synchronously and exit")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Start from the starting balance, ignoring persisted state")
	return cmd
}

func runLive(ctx context.Context, cfg *config.Config, fresh bool) error {
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()

	if err := restore(ctx, a, fresh); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	if cfg.HTTP.Enabled {
		server := httpserver.NewServer(cfg.HTTP.ServerConfig, a.engine, a.metrics.Handler())
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s stopped: %w", appName, err)
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func runReplay(ctx context.Context, w io.Writer, cfg *config.Config, path string, fresh bool) error {
	replay, err := feed.LoadReplay(path, 0)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, replay)
	if err != nil {
		return err
	}
	defer a.close()

	if err := restore(ctx, a, fresh); err != nil {
		return err
	}

	progress := logging.NewProgress("replay", replay.Len(cfg.Engine.Instruments), log.Logger)
	if err := a.engine.Process(ctx, progressFeed{Feed: replay, progress: progress}); err != nil {
		return err
	}
	progress.Finish()

	printSummary(w, a.engine.PortfolioSnapshot())
	return nil
}

func restore(ctx context.Context, a *app, fresh bool) error {
	if fresh {
		return nil
	}
	restored, err := a.engine.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	if restored {
		state := a.ledger.Snapshot()
		log.Info().
			Float64("total", state.Total).
			Int("positions", len(state.Positions)).
			Int("trades", len(state.Trades)).
			Msg("State restored")
	}
	return nil
}

// progressFeed counts ticks as they are handed to the engine.
type progressFeed struct {
	market.Feed
	progress *logging.Progress
}

func (f progressFeed) Stream(ctx context.Context, instruments []string, out chan<- market.Tick) error {
	g, gctx := errgroup.WithContext(ctx)
	in := make(chan market.Tick)
	g.Go(func() error {
		defer close(in)
		return f.Feed.Stream(gctx, instruments, in)
	})
	g.Go(func() error {
		for tick := range in {
			select {
			case out <- tick:
				f.progress.Increment()
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	return g.Wait()
}
