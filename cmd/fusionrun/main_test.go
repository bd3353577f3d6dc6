package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/config"
	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/engine"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/market"
)

// fixture writes an 80-bar uptrend replay and a config that trades it
// with file persistence, and returns both paths.
func fixture(t *testing.T) (cfgPath, replayPath string) {
	t.Helper()
	t.Setenv(config.EnvPostgresDSN, "")
	t.Setenv(config.EnvRedisAddr, "")
	t.Setenv(config.EnvHTTPPort, "")

	dir := t.TempDir()
	start := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	bars := make([]market.Sample, 80)
	price := 100.0
	for i := range bars {
		bars[i] = market.Sample{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price * 1.002,
			Low:    price * 0.998,
			Close:  price,
			Volume: 1,
		}
		price *= 1.01
	}
	data, err := json.Marshal(map[string][]market.Sample{"BTC-USD": bars})
	require.NoError(t, err)
	replayPath = filepath.Join(dir, "replay.json")
	require.NoError(t, os.WriteFile(replayPath, data, 0o644))

	yml := fmt.Sprintf(`app:
  log_level: warn
  log_format: json
instruments: [BTC-USD]
persistence:
  backend: file
  file:
    path: %s
feed:
  source: replay
  replay_path: %s
`, filepath.Join(dir, "state.json"), replayPath)
	cfgPath = filepath.Join(dir, "fusionrun.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o644))
	return cfgPath, replayPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigValidate(t *testing.T) {
	cfgPath, _ := fixture(t)
	out, err := execute(t, "config", "validate", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("risk:\n  kelly_cap: 3\n"), 0o644))
	_, err = execute(t, "config", "validate", "-c", bad, "--log-format", "json")
	assert.ErrorContains(t, err, "risk:")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfgPath, _ := fixture(t)
	t.Setenv(config.EnvPostgresDSN, "postgres://user:secret@db/fusion")
	out, err := execute(t, "config", "show", "-c", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "secret@db")
	assert.Contains(t, out, "instruments:")
}

func TestReplayRunThenStatus(t *testing.T) {
	cfgPath, replayPath := fixture(t)

	out, err := execute(t, "run", "-c", cfgPath, "--replay", replayPath, "--fresh")
	require.NoError(t, err)
	assert.Contains(t, out, "portfolio")

	out, err = execute(t, "status", "-c", cfgPath, "--json")
	require.NoError(t, err)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Greater(t, len(snap.State.Positions)+len(snap.State.Trades), 0)
	assert.Equal(t, len(snap.State.Trades), snap.Metrics.TotalTrades)
	require.NoError(t, snap.State.Check())
}

func TestStatusWithoutSavedState(t *testing.T) {
	cfgPath, _ := fixture(t)
	out, err := execute(t, "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No open positions")
}

func TestEvaluatePrintsSignal(t *testing.T) {
	cfgPath, replayPath := fixture(t)

	out, err := execute(t, "evaluate", "BTC-USD", "-c", cfgPath, "-i", replayPath, "--json")
	require.NoError(t, err)

	var sig fusion.Signal
	require.NoError(t, json.Unmarshal([]byte(out), &sig))
	assert.Equal(t, "BTC-USD", sig.Instrument)
	assert.Equal(t, domain.Long, sig.Direction)
	assert.NotEmpty(t, sig.Contributions)

	_, err = execute(t, "evaluate", "ETH-USD", "-c", cfgPath, "-i", replayPath)
	assert.ErrorContains(t, err, "no samples for ETH-USD")

	_, err = execute(t, "evaluate", "BTC-USD", "-c", cfgPath)
	assert.ErrorContains(t, err, "--input is required")
}
