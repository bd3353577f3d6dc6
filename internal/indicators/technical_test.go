package indicators

import (
	"math"
	"testing"
)

func TestCalculateRSI(t *testing.T) {
	prices := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.85, 46.08, 45.89, 46.03,
		46.83, 46.69, 46.45, 46.59, 46.34, 46.82, 47.16, 47.72, 47.25, 47.09,
	}

	result := CalculateRSI(prices, 14)
	if !result.IsValid {
		t.Error("RSI calculation should be valid with sufficient data")
	}
	if result.Value < 0 || result.Value > 100 {
		t.Errorf("RSI should be between 0 and 100, got %.2f", result.Value)
	}
	if result.Value < 50 {
		t.Errorf("Expected bullish RSI for rising series, got %.2f", result.Value)
	}

	short := CalculateRSI(prices[:3], 14)
	if short.IsValid {
		t.Error("RSI should be invalid with insufficient data")
	}
	if short.Value != 50.0 {
		t.Errorf("Expected neutral RSI of 50.0 for insufficient data, got %.1f", short.Value)
	}
}

func TestCalculateRSIFlatSeriesIsNeutral(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100
	}
	result := CalculateRSI(prices, 14)
	if !result.IsValid || result.Value != 50 {
		t.Errorf("Expected valid RSI of 50 for flat series, got %.2f (valid=%v)", result.Value, result.IsValid)
	}
}

func TestCalculateRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	down := make([]float64, 20)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}
	if v := CalculateRSI(up, 14).Value; v != 100 {
		t.Errorf("Expected RSI 100 for monotonic rise, got %.2f", v)
	}
	if v := CalculateRSI(down, 14).Value; v != 0 {
		t.Errorf("Expected RSI 0 for monotonic fall, got %.2f", v)
	}
}

func TestCalculateATR(t *testing.T) {
	bars := []PriceBar{
		{High: 48.70, Low: 47.79, Close: 48.16},
		{High: 48.72, Low: 48.14, Close: 48.61},
		{High: 48.90, Low: 48.39, Close: 48.75},
		{High: 48.87, Low: 48.37, Close: 48.63},
		{High: 48.82, Low: 48.24, Close: 48.74},
		{High: 49.05, Low: 48.64, Close: 49.03},
		{High: 49.20, Low: 48.94, Close: 49.07},
		{High: 49.35, Low: 48.86, Close: 49.32},
		{High: 49.92, Low: 49.50, Close: 49.91},
		{High: 50.19, Low: 49.87, Close: 50.13},
		{High: 50.12, Low: 49.20, Close: 49.53},
		{High: 49.66, Low: 48.90, Close: 49.50},
		{High: 49.88, Low: 49.43, Close: 49.75},
		{High: 50.19, Low: 49.73, Close: 50.03},
		{High: 50.36, Low: 49.26, Close: 50.31},
		{High: 50.57, Low: 50.09, Close: 50.52},
	}

	result := CalculateATR(bars, 14)
	if !result.IsValid {
		t.Error("ATR calculation should be valid with sufficient data")
	}
	if result.Value <= 0 {
		t.Errorf("ATR should be positive, got %.4f", result.Value)
	}

	if short := CalculateATR(bars[:5], 14); short.IsValid {
		t.Error("ATR should be invalid with insufficient data")
	}
}

func TestEMASeries(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	ema := EMASeries(values, 3)
	if len(ema) != 4 {
		t.Fatalf("Expected 4 EMA values, got %d", len(ema))
	}
	if ema[0] != 2 {
		t.Errorf("Expected SMA seed of 2, got %.4f", ema[0])
	}
	// k = 0.5: 4*0.5 + 2*0.5 = 3
	if math.Abs(ema[1]-3) > 1e-9 {
		t.Errorf("Expected second EMA value 3, got %.4f", ema[1])
	}
	if EMASeries(values, 10) != nil {
		t.Error("Expected nil series for short input")
	}
}

func TestSMAAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if v := SMA(values, 8); v != 5 {
		t.Errorf("Expected SMA 5, got %.4f", v)
	}
	if v := StdDev(values, 8); math.Abs(v-2) > 1e-9 {
		t.Errorf("Expected population stddev 2, got %.4f", v)
	}
	if v := SMA(values, 20); v != 0 {
		t.Errorf("Expected 0 for short input, got %.4f", v)
	}
}

func TestStochasticAndWilliams(t *testing.T) {
	bars := []PriceBar{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 12},
	}

	k, ok := StochasticK(bars, 3)
	if !ok || math.Abs(k-100) > 1e-9 {
		t.Errorf("Expected %%K 100 at the high, got %.2f", k)
	}
	r, ok := CalculateWilliamsR(bars, 3)
	if !ok || math.Abs(r) > 1e-9 {
		t.Errorf("Expected %%R 0 at the high, got %.2f", r)
	}

	flat := []PriceBar{{High: 5, Low: 5, Close: 5}, {High: 5, Low: 5, Close: 5}}
	if k, _ := StochasticK(flat, 2); k != 50 {
		t.Errorf("Expected midline %%K for flat range, got %.2f", k)
	}
	if r, _ := CalculateWilliamsR(flat, 2); r != -50 {
		t.Errorf("Expected midline %%R for flat range, got %.2f", r)
	}
}
