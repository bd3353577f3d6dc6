// Package config loads the FusionRun YAML configuration and converts each
// section into the settings of the package it configures.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/fusionrun/internal/cache"
	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/execution"
	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/feed"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/indicators"
	httpserver "github.com/sawpanic/fusionrun/internal/interfaces/http"
	"github.com/sawpanic/fusionrun/internal/market"
	"github.com/sawpanic/fusionrun/internal/persistence/postgres"
	"github.com/sawpanic/fusionrun/internal/portfolio"
	"github.com/sawpanic/fusionrun/internal/risk"
)

// Environment overrides for secrets and deployment specifics.
const (
	EnvPostgresDSN = "FUSIONRUN_PG_DSN"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvHTTPPort    = "HTTP_PORT"
)

// Persistence backends.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Feed sources.
const (
	SourceKraken = "kraken"
	SourceReplay = "replay"
)

// Config represents the complete FusionRun configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Instruments []string          `yaml:"instruments"`
	Market      market.Config     `yaml:"market"`
	Indicators  indicators.Params `yaml:"indicators"`
	Fusion      fusion.Config     `yaml:"fusion"`
	Risk        risk.Config       `yaml:"risk"`
	Exits       exits.Config      `yaml:"exits"`
	Portfolio   portfolio.Config  `yaml:"portfolio"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Engine      engine.Config     `yaml:"engine"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Cache       CacheConfig       `yaml:"cache"`
	HTTP        HTTPConfig        `yaml:"http"`
	Feed        FeedConfig        `yaml:"feed"`
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`  // trace, debug, info, warn, error
	LogFormat string `yaml:"log_format"` // auto, console, json
}

// ExecutionConfig configures the coordinator and the paper exchange
type ExecutionConfig struct {
	execution.Config `yaml:",inline"`
	Paper            execution.PaperConfig `yaml:"paper"`
}

// PersistenceConfig selects where state is saved between runs
type PersistenceConfig struct {
	Backend  string          `yaml:"backend"` // none, file, postgres
	File     FileConfig      `yaml:"file"`
	Postgres postgres.Config `yaml:"postgres"`
}

// FileConfig configures the JSON state file
type FileConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig configures the optional Redis mirror
type CacheConfig struct {
	Enabled      bool `yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// HTTPConfig configures the optional status server
type HTTPConfig struct {
	Enabled                 bool `yaml:"enabled"`
	httpserver.ServerConfig `yaml:",inline"`
}

// FeedConfig selects the market data source
type FeedConfig struct {
	Source      string            `yaml:"source"` // kraken, replay
	Kraken      feed.KrakenConfig `yaml:"kraken"`
	ReplayPath  string            `yaml:"replay_path"`
	ReplayDelay time.Duration     `yaml:"replay_delay"`
}

// Default returns the built-in configuration
func Default() *Config {
	eng := engine.DefaultConfig()
	return &Config{
		App: AppConfig{
			Name:      "fusionrun",
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Instruments: append([]string(nil), eng.Instruments...),
		Market:      market.DefaultConfig(),
		Indicators:  indicators.DefaultParams(),
		Fusion:      fusion.DefaultConfig(),
		Risk:        risk.DefaultConfig(),
		Exits:       exits.DefaultConfig(),
		Portfolio:   portfolio.DefaultConfig(),
		Execution: ExecutionConfig{
			Config: execution.DefaultConfig(),
			Paper:  execution.DefaultPaperConfig(),
		},
		Engine: eng,
		Persistence: PersistenceConfig{
			Backend:  BackendFile,
			File:     FileConfig{Path: "out/state/fusionrun.json"},
			Postgres: postgres.DefaultConfig(),
		},
		Cache: CacheConfig{Config: cache.DefaultConfig()},
		HTTP:  HTTPConfig{ServerConfig: httpserver.DefaultServerConfig()},
		Feed: FeedConfig{
			Source: SourceKraken,
			Kraken: feed.DefaultKrakenConfig(),
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults, then
// applies environment overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, applies environment
// overrides and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Engine.Instruments = append([]string(nil), cfg.Instruments...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if dsn := os.Getenv(EnvPostgresDSN); dsn != "" {
		c.Persistence.Postgres.DSN = dsn
	}
	if addr := os.Getenv(EnvRedisAddr); addr != "" {
		c.Cache.Addr = addr
	}
	if portStr := os.Getenv(EnvHTTPPort); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPPort, err)
		}
		c.HTTP.Port = p
	}
	return nil
}

// Validate ensures the configuration is valid and consistent. Every
// problem is reported, prefixed with its section.
func (c *Config) Validate() error {
	var errs []error
	section := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch strings.ToLower(c.App.LogFormat) {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("app: unknown log_format %q", c.App.LogFormat))
	}

	if c.Market.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("market: capacity must be positive, got %d", c.Market.Capacity))
	}
	section("indicators", c.Indicators.Validate())
	if lookback := c.Indicators.Lookback(); c.Market.Capacity > 0 && lookback > c.Market.Capacity {
		errs = append(errs, fmt.Errorf("indicators: lookback %d exceeds market capacity %d", lookback, c.Market.Capacity))
	}
	section("fusion", c.Fusion.Validate())
	section("risk", c.Risk.Validate())
	section("exits", c.Exits.Validate())
	if c.Portfolio.StartingBalance <= 0 {
		errs = append(errs, fmt.Errorf("portfolio: starting_balance must be positive, got %.2f", c.Portfolio.StartingBalance))
	}
	section("execution", c.Execution.Validate())
	if c.Execution.Paper.SlippageBps < 0 || c.Execution.Paper.FeeBps < 0 {
		errs = append(errs, errors.New("execution: paper slippage_bps and fee_bps must not be negative"))
	}
	if costs := c.Execution.Paper.SlippageBps + c.Execution.Paper.FeeBps; c.Risk.CostBufferBps < costs {
		errs = append(errs, fmt.Errorf("risk: cost_buffer_bps %.1f below paper slippage plus fees %.1f", c.Risk.CostBufferBps, costs))
	}
	section("engine", c.Engine.Validate())

	switch c.Persistence.Backend {
	case BackendNone:
	case BackendFile:
		if c.Persistence.File.Path == "" {
			errs = append(errs, errors.New("persistence: file.path is required for the file backend"))
		}
	case BackendPostgres:
		if c.Persistence.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("persistence: postgres.dsn is required, set it or %s", EnvPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("persistence: unknown backend %q", c.Persistence.Backend))
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, fmt.Errorf("cache: addr is required when enabled, set it or %s", EnvRedisAddr))
	}
	if c.HTTP.Enabled {
		section("http", c.HTTP.ServerConfig.Validate())
	}

	switch c.Feed.Source {
	case SourceKraken:
		if c.Feed.Kraken.URL == "" {
			errs = append(errs, errors.New("feed: kraken.url is required"))
		}
	case SourceReplay:
		if c.Feed.ReplayPath == "" {
			errs = append(errs, errors.New("feed: replay_path is required for the replay source"))
		}
	default:
		errs = append(errs, fmt.Errorf("feed: unknown source %q", c.Feed.Source))
	}

	return errors.Join(errs...)
}
