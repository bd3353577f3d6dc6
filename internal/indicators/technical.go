package indicators

import (
	"math"
)

// RSIResult represents the result of an RSI calculation
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateRSI calculates the Relative Strength Index with Wilder smoothing.
// A window with neither gains nor losses reads as the 50 midline.
func CalculateRSI(prices []float64, period int) RSIResult {
	if period <= 0 || len(prices) < period+1 {
		return RSIResult{
			Value:     50.0,
			Period:    period,
			IsValid:   false,
			DataCount: len(prices),
		}
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		gain, loss := splitChange(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		gain, loss := splitChange(prices[i] - prices[i-1])
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	value := 50.0
	switch {
	case avgGain == 0 && avgLoss == 0:
	case avgLoss == 0:
		value = 100.0
	default:
		rs := avgGain / avgLoss
		value = 100.0 - (100.0 / (1.0 + rs))
	}

	return RSIResult{
		Value:     value,
		Period:    period,
		IsValid:   true,
		DataCount: len(prices),
	}
}

func splitChange(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

// ATRResult represents the result of an ATR calculation
type ATRResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// PriceBar represents OHLC price data
type PriceBar struct {
	High  float64
	Low   float64
	Close float64
}

// CalculateATR calculates the Average True Range with Wilder smoothing.
func CalculateATR(bars []PriceBar, period int) ATRResult {
	if period <= 0 || len(bars) < period+1 {
		return ATRResult{
			Period:    period,
			IsValid:   false,
			DataCount: len(bars),
		}
	}

	trueRange := func(i int) float64 {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		return math.Max(hl, math.Max(hc, lc))
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(i)
	}
	atr /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(bars); i++ {
		atr = atr*(1-alpha) + trueRange(i)*alpha
	}

	return ATRResult{
		Value:     atr,
		Period:    period,
		IsValid:   true,
		DataCount: len(bars),
	}
}

// SMA returns the simple mean of the last period values, or 0 when there
// are not enough values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMASeries returns the exponential moving average series seeded with the
// SMA of the first period values. The result has len(values)-period+1
// entries, aligned with the tail of values.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	out = append(out, ema)

	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// StdDev returns the population standard deviation of the last period values.
func StdDev(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	mean := SMA(values, period)
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(period))
}

// highestLowest returns the extremes of the last period bars.
func highestLowest(bars []PriceBar, period int) (float64, float64) {
	recent := bars[len(bars)-period:]
	hh := recent[0].High
	ll := recent[0].Low
	for _, b := range recent[1:] {
		hh = math.Max(hh, b.High)
		ll = math.Min(ll, b.Low)
	}
	return hh, ll
}

// StochasticK returns the fast %K in [0,100]. A flat range reads as 50.
func StochasticK(bars []PriceBar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 50, false
	}
	hh, ll := highestLowest(bars, period)
	if hh == ll {
		return 50, true
	}
	last := bars[len(bars)-1].Close
	return 100 * (last - ll) / (hh - ll), true
}

// CalculateWilliamsR returns %R in [-100,0]. A flat range reads as -50.
func CalculateWilliamsR(bars []PriceBar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return -50, false
	}
	hh, ll := highestLowest(bars, period)
	if hh == ll {
		return -50, true
	}
	last := bars[len(bars)-1].Close
	return -100 * (hh - last) / (hh - ll), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
