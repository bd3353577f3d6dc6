package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/logging"
)

const (
	appName = "FusionRun"
	version = "v0.4.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *options) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "Path to the YAML config (built-in defaults when empty)")
	fs.StringVar(&o.logLevel, "log-level", "", "Override app.log_level (trace|debug|info|warn|error)")
	fs.StringVar(&o.logFormat, "log-format", "", "Override app.log_format (auto|console|json)")
}

// load reads the configuration, applies flag overrides and sets up logging.
func (o *options) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath == "" {
		cfg, err = config.Parse(nil)
	} else {
		cfg, err = config.Load(o.configPath)
	}
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.App.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.App.LogFormat = o.logFormat
	}
	if err := logging.Setup(cfg.App.LogLevel, cfg.App.LogFormat, os.Stderr); err != nil {
		return nil, err
	}
	log.Debug().Str("config", o.configPath).Strs("instruments", cfg.Instruments).Msg("Configuration loaded")
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:     "fusionrun",
		Short:   "Indicator fusion and risk-managed paper trading",
		Version: version,
		Long: appName + ` fuses technical indicators into one directional signal per
instrument, weights them by market regime, sizes positions under risk limits
and manages every position through stops, take-profit ladders and time exits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(opts),
		newEvaluateCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
