package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/feed"
)

func newEvaluateCmd(opts *options) *cobra.Command {
	var (
		input  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate <instrument>",
		Short: "Fuse one signal from recorded samples",
		Long: `Loads the recorded samples of one instrument, evaluates every enabled
indicator over the latest window and prints the fused signal. Nothing is
traded or persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				return errors.New("--input is required")
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			instrument := args[0]

			replay, err := feed.LoadReplay(input, 0)
			if err != nil {
				return err
			}
			if replay.Len([]string{instrument}) == 0 {
				return fmt.Errorf("no samples for %s in %s", instrument, input)
			}

			evalCfg := *cfg
			evalCfg.Instruments = []string{instrument}
			evalCfg.Engine.Instruments = []string{instrument}
			evalCfg.Engine.AutoTrade = false
			evalCfg.Persistence.Backend = config.BackendNone
			evalCfg.Cache.Enabled = false

			a, err := buildApp(cmd.Context(), &evalCfg, replay)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Process(cmd.Context(), replay); err != nil {
				return err
			}
			sig, err := a.engine.EvaluateOnce(cmd.Context(), instrument)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sig)
			}
			printSignal(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Recorded samples (JSON object of instrument to sample array)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the signal as JSON")
	return cmd
}
