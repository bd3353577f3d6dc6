package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/market"
)

func TestReplay_OrdersAcrossInstruments(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := func(min int, px float64) market.Sample {
		return market.Sample{Time: base.Add(time.Duration(min) * time.Minute), Open: px, High: px, Low: px, Close: px}
	}
	r := NewReplay(map[string][]market.Sample{
		"BTC-USD": {s(0, 100), s(2, 101)},
		"ETH-USD": {s(1, 50), s(3, 51)},
		"SOL-USD": {s(0, 10)},
	}, 0)

	out := make(chan market.Tick, 10)
	require.NoError(t, r.Stream(context.Background(), []string{"BTC-USD", "ETH-USD"}, out))
	close(out)

	var got []string
	for tick := range out {
		got = append(got, tick.Instrument)
	}
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "BTC-USD", "ETH-USD"}, got)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "SOL-USD"}, r.Instruments())
	assert.Equal(t, 4, r.Len([]string{"BTC-USD", "ETH-USD"}))
}

func TestReplay_Cancelled(t *testing.T) {
	r := NewReplay(map[string][]market.Sample{
		"BTC-USD": {{Time: time.Unix(60, 0), Open: 1, Close: 1, High: 1, Low: 1}},
	}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Stream(ctx, []string{"BTC-USD"}, make(chan market.Tick))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"BTC-USD":[{"time":"2024-01-01T00:00:00Z","open":1,"high":2,"low":0.5,"close":1.5,"volume":10}]}`), 0644))

	r, err := LoadReplay(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD"}, r.Instruments())

	_, err = LoadReplay(filepath.Join(t.TempDir(), "missing.json"), 0)
	assert.Error(t, err)
}
