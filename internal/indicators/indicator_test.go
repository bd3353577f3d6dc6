package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fusionrun/internal/market"
)

var start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func flatWindow(n int, price float64) market.Window {
	w := make(market.Window, n)
	for i := range w {
		w[i] = market.Sample{
			Time:  start.Add(time.Duration(i) * time.Minute),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
	}
	return w
}

func trendWindow(n int, step float64) market.Window {
	w := make(market.Window, n)
	price := 100.0
	for i := range w {
		w[i] = market.Sample{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   price,
			High:   price * 1.002,
			Low:    price * 0.998,
			Close:  price,
			Volume: 1,
		}
		price *= 1 + step
	}
	return w
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	p := DefaultParams()
	w := flatWindow(10, 100)

	for _, kind := range AllKinds {
		_, err := Evaluate(kind, "BTC-USD", w, p)
		assert.ErrorIs(t, err, ErrInsufficient, kind.String())
	}
}

func TestEvaluateFlatWindowIsNeutral(t *testing.T) {
	p := DefaultParams()
	w := flatWindow(80, 100)

	for _, kind := range AllKinds {
		r, err := Evaluate(kind, "BTC-USD", w, p)
		require.NoError(t, err, kind.String())
		assert.Equal(t, 0.0, r.Score, kind.String())
		assert.Equal(t, kind, r.Kind)
		assert.Equal(t, w[len(w)-1].Time, r.Time)
	}
}

func TestEvaluateUptrendIsBullish(t *testing.T) {
	p := DefaultParams()
	w := trendWindow(80, 0.01)

	for _, kind := range AllKinds {
		r, err := Evaluate(kind, "BTC-USD", w, p)
		require.NoError(t, err, kind.String())
		assert.Greater(t, r.Score, 0.6, kind.String())
		assert.LessOrEqual(t, r.Score, 1.0, kind.String())
	}
}

func TestEvaluateDowntrendIsBearish(t *testing.T) {
	p := DefaultParams()
	w := trendWindow(80, -0.01)

	for _, kind := range AllKinds {
		r, err := Evaluate(kind, "BTC-USD", w, p)
		require.NoError(t, err, kind.String())
		assert.Less(t, r.Score, -0.6, kind.String())
	}
}

func TestOscillatorScoreMapping(t *testing.T) {
	p := OscillatorParams{Period: 14, Overbought: 70, Oversold: 30}

	tests := []struct {
		value float64
		want  float64
	}{
		{50, 0},
		{60, 0.25},
		{70, 0.5},
		{85, 0.75},
		{100, 1},
		{30, -0.5},
		{0, -1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, oscillatorScore(tt.value, 0, 100, p), 1e-9, "value %.0f", tt.value)
	}

	williams := OscillatorParams{Period: 14, Overbought: -20, Oversold: -80}
	assert.InDelta(t, 0.5, oscillatorScore(-20, -100, 0, williams), 1e-9)
	assert.InDelta(t, -1, oscillatorScore(-100, -100, 0, williams), 1e-9)
}

func TestMACDCrossoverBoostsReliability(t *testing.T) {
	p := DefaultParams()
	w := flatWindow(40, 100)

	r, err := Evaluate(MACD, "BTC-USD", w, p)
	require.NoError(t, err)
	assert.False(t, r.Crossover)
	assert.InDelta(t, p.Prior(MACD), r.Reliability, 1e-9)

	// A breakout bar pushes the histogram above zero.
	last := w[len(w)-1]
	w = append(w, market.Sample{
		Time:  last.Time.Add(time.Minute),
		Open:  100,
		High:  101.2,
		Low:   100,
		Close: 101,
	})
	r, err = Evaluate(MACD, "BTC-USD", w, p)
	require.NoError(t, err)
	assert.True(t, r.Crossover)
	assert.Greater(t, r.Values["histogram"], 0.0)
	assert.Greater(t, r.Score, 0.0)
	assert.InDelta(t, p.Prior(MACD)+p.MACD.CrossoverBoost, r.Reliability, 1e-9)
}

func TestBollingerExposesBandwidth(t *testing.T) {
	p := DefaultParams()
	r, err := Evaluate(Bollinger, "BTC-USD", trendWindow(40, 0.01), p)
	require.NoError(t, err)
	assert.Greater(t, r.Values["bandwidth"], 0.0)
	assert.Greater(t, r.Values["upper"], r.Values["lower"])

	flat, err := Evaluate(Bollinger, "BTC-USD", flatWindow(40, 100), p)
	require.NoError(t, err)
	assert.Equal(t, 0.0, flat.Values["bandwidth"])
}

func TestScoresStayBounded(t *testing.T) {
	p := DefaultParams()
	w := trendWindow(100, 0.05)
	for _, kind := range AllKinds {
		r, err := Evaluate(kind, "BTC-USD", w, p)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(r.Score))
		assert.GreaterOrEqual(t, r.Score, -1.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.GreaterOrEqual(t, r.Reliability, 0.0)
		assert.LessOrEqual(t, r.Reliability, 1.0)
	}
}

func TestSetEvaluateAllSkipsShortIndicators(t *testing.T) {
	set := NewSet(DefaultParams())

	results, err := set.EvaluateAll(context.Background(), "BTC-USD", flatWindow(30, 100))
	require.NoError(t, err)

	kinds := make([]Kind, 0, len(results))
	for _, r := range results {
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []Kind{RSI, Bollinger, Stochastic, WilliamsR}, kinds)
}

func TestSetEvaluateAllOrdersAndDedupes(t *testing.T) {
	p := DefaultParams()
	p.Enabled = []Kind{WilliamsR, RSI, MACD, RSI}
	set := NewSet(p)

	results, err := set.EvaluateAll(context.Background(), "BTC-USD", trendWindow(80, 0.01))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, RSI, results[0].Kind)
	assert.Equal(t, MACD, results[1].Kind)
	assert.Equal(t, WilliamsR, results[2].Kind)
}

func TestSetEvaluateAllHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSet(DefaultParams()).EvaluateAll(ctx, "BTC-USD", trendWindow(80, 0.01))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.MACD.Fast = 30
	p.RSI.Overbought = 40
	p.Reliability["rsi"] = 1.5
	p.Reliability["vwap"] = 0.5
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "macd")
	assert.Contains(t, err.Error(), "rsi")
	assert.Contains(t, err.Error(), "vwap")
}

func TestKindText(t *testing.T) {
	for _, k := range AllKinds {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	_, err := ParseKind("vwap")
	assert.Error(t, err)
	assert.Equal(t, ClassTrend, MACD.Class())
	assert.Equal(t, ClassReversal, RSI.Class())
}

func TestLookback(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 50, p.Lookback())
	p.Enabled = []Kind{RSI, MACD}
	assert.Equal(t, 35, p.Lookback())
}
