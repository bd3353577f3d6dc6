package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/indicators"
	"github.com/sawpanic/fusionrun/internal/risk"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Instruments, cfg.Engine.Instruments)
	assert.Equal(t, BackendFile, cfg.Persistence.Backend)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvPostgresDSN, "postgres://fusion@localhost/fusion?sslmode=disable")
	t.Setenv(EnvRedisAddr, "")
	t.Setenv(EnvHTTPPort, "")

	cfg, err := Load(filepath.Join("testdata", "fusionrun.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "fusionrun", cfg.App.Name, "unset keys keep their default")
	assert.Equal(t, []string{"BTC-USD", "SOL-USD"}, cfg.Instruments)
	assert.Equal(t, cfg.Instruments, cfg.Engine.Instruments)
	assert.Equal(t, 300, cfg.Market.Capacity)
	assert.Equal(t, 24*time.Hour, cfg.Market.Retention)

	assert.Equal(t, []indicators.Kind{indicators.RSI, indicators.MACD, indicators.Bollinger, indicators.MACrossover}, cfg.Indicators.Enabled)
	assert.Equal(t, 10, cfg.Indicators.RSI.Period)
	assert.Equal(t, 26, cfg.Indicators.MACD.Slow)
	assert.Equal(t, 0.8, cfg.Indicators.Reliability["ma_crossover"])

	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTrade)
	assert.Equal(t, []risk.Correlation{{A: "BTC-USD", B: "SOL-USD", Rho: 0.8}}, cfg.Risk.Correlations)

	assert.Equal(t, exits.StopTrailing, cfg.Exits.Stop)
	assert.Equal(t, 3.0, cfg.Exits.TrailingPct)
	assert.Len(t, cfg.Exits.Ladder, 2)
	assert.Equal(t, 12*time.Hour, cfg.Exits.MaxHold)

	assert.Equal(t, 5, cfg.Execution.MaxAttempts)
	assert.Equal(t, 10.0, cfg.Execution.RateLimit)
	assert.Equal(t, 10*time.Second, cfg.Execution.CallTimeout)
	assert.Equal(t, 2.0, cfg.Execution.Paper.SlippageBps)
	assert.Equal(t, 10.0, cfg.Execution.Paper.FeeBps)

	assert.Equal(t, 30*time.Second, cfg.Engine.SignalInterval)
	assert.Equal(t, 5*time.Second, cfg.Engine.MonitorInterval)

	assert.Equal(t, BackendPostgres, cfg.Persistence.Backend)
	assert.Equal(t, "postgres://fusion@localhost/fusion?sslmode=disable", cfg.Persistence.Postgres.DSN)
	assert.Equal(t, 4, cfg.Persistence.Postgres.MaxOpenConns)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Cache.Addr)
	assert.Equal(t, "fusionrun:", cfg.Cache.Prefix)

	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)

	assert.Equal(t, SourceReplay, cfg.Feed.Source)
	assert.Equal(t, "testdata/replay.json", cfg.Feed.ReplayPath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvRedisAddr, "redis:6380")
	t.Setenv(EnvHTTPPort, "8181")

	cfg, err := Parse([]byte("cache:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", cfg.Cache.Addr)
	assert.Equal(t, 8181, cfg.HTTP.Port)

	t.Setenv(EnvHTTPPort, "eighty")
	_, err = Parse(nil)
	assert.ErrorContains(t, err, EnvHTTPPort)
}

func TestValidateReportsEverySection(t *testing.T) {
	cfg := Default()
	cfg.App.LogFormat = "xml"
	cfg.Risk.KellyCap = 2
	cfg.Exits.StopPct = 0
	cfg.Persistence.Backend = BackendPostgres
	cfg.Feed.Source = "carrier-pigeon"
	cfg.Cache.Enabled = true
	cfg.Cache.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"app:", "risk:", "exits:", "persistence:", "feed:", "cache:"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestCostBufferMustCoverPaperCosts(t *testing.T) {
	cfg := Default()
	cfg.Execution.Paper.FeeBps = 40
	cfg.Execution.Paper.SlippageBps = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost_buffer_bps")

	cfg.Risk.CostBufferBps = 60
	assert.NoError(t, cfg.Validate())
}

func TestLookbackMustFitMarketCapacity(t *testing.T) {
	cfg := Default()
	cfg.Market.Capacity = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds market capacity")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("indicators:\n  enabled: [vwap]\n"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "unknown indicator")

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("instruments: []\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "at least one instrument")
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv(EnvHTTPPort, "")
	cfg, err := Load(filepath.Join("..", "..", "configs", "fusionrun.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Instruments)
}
