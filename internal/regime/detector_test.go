package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/indicators"
)

func result(kind indicators.Kind, score float64) indicators.Result {
	return indicators.Result{Kind: kind, Score: score, Reliability: 0.7}
}

func TestDetectTrending(t *testing.T) {
	results := []indicators.Result{
		result(indicators.RSI, 1),
		result(indicators.MACD, 0.99),
		result(indicators.MACrossover, 0.98),
		{Kind: indicators.Bollinger, Score: 0.85, Values: map[string]float64{"bandwidth": 0.2}},
	}

	d := Detect(results, DefaultConfig())
	assert.Equal(t, Trending, d.Regime)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Len(t, d.Votes, 3)
}

func TestDetectRanging(t *testing.T) {
	results := []indicators.Result{
		result(indicators.RSI, 0.8),
		result(indicators.Stochastic, -0.9),
		result(indicators.MACD, 0.05),
		{Kind: indicators.Bollinger, Score: -0.1, Values: map[string]float64{"bandwidth": 0.01}},
	}

	d := Detect(results, DefaultConfig())
	assert.Equal(t, Ranging, d.Regime)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "ranging", d.Votes["bandwidth"])
}

func TestDetectMajorityOfTwoToOne(t *testing.T) {
	// Low dispersion and strong trend vote trending, narrow bands vote ranging.
	results := []indicators.Result{
		result(indicators.MACD, 0.6),
		result(indicators.MACrossover, 0.6),
		{Kind: indicators.Bollinger, Score: 0.6, Values: map[string]float64{"bandwidth": 0.01}},
	}

	d := Detect(results, DefaultConfig())
	assert.Equal(t, Trending, d.Regime)
	assert.InDelta(t, 2.0/3.0, d.Confidence, 1e-9)
}

func TestDetectTieFallsBackToRanging(t *testing.T) {
	// Tight dispersion votes trending, weak MACD votes ranging, no bands.
	results := []indicators.Result{
		result(indicators.RSI, 0.9),
		result(indicators.MACD, 0.1),
	}
	d := Detect(results, DefaultConfig())
	require.Len(t, d.Votes, 2)
	assert.Equal(t, Ranging, d.Regime)
	assert.Equal(t, 0.5, d.Confidence)
}

func TestDetectEmpty(t *testing.T) {
	d := Detect(nil, DefaultConfig())
	assert.Equal(t, Ranging, d.Regime)
	assert.Zero(t, d.Confidence)
}

func TestProfiles(t *testing.T) {
	profiles := DefaultProfiles()
	require.NoError(t, ValidateProfiles(profiles))

	trending := profiles[Trending]
	ranging := profiles[Ranging]
	assert.Greater(t, trending.Multiplier(indicators.MACD), ranging.Multiplier(indicators.MACD))
	assert.Greater(t, ranging.Multiplier(indicators.RSI), trending.Multiplier(indicators.RSI))
	assert.Equal(t, 1.0, Profile{}.Multiplier(indicators.RSI))

	delete(profiles, Ranging)
	assert.Error(t, ValidateProfiles(profiles))
}

func TestRegimeText(t *testing.T) {
	var r Regime
	require.NoError(t, r.UnmarshalText([]byte("trending")))
	assert.Equal(t, Trending, r)
	text, _ := Ranging.MarshalText()
	assert.Equal(t, "ranging", string(text))
}
