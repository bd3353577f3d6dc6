// Package indicators evaluates the technical indicator set over a market
// window and normalises each reading to a directional score.
package indicators

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/fusionrun/internal/market"
)

// ErrInsufficient is returned when the window is shorter than the
// indicator's minimum lookback. Callers skip the indicator.
var ErrInsufficient = errors.New("insufficient history")

// Result is one indicator reading. Score is in [-1,+1] with positive
// meaning bullish; Reliability is in [0,1].
type Result struct {
	Kind        Kind               `json:"kind"`
	Instrument  string             `json:"instrument"`
	Time        time.Time          `json:"time"`
	Values      map[string]float64 `json:"values"`
	Score       float64            `json:"score"`
	Reliability float64            `json:"reliability"`
	Crossover   bool               `json:"crossover,omitempty"`
}

// Evaluate computes a single indicator over the window.
func Evaluate(kind Kind, instrument string, w market.Window, p Params) (Result, error) {
	need := p.MinLength(kind)
	if need <= 0 {
		return Result{}, fmt.Errorf("unknown indicator %s", kind)
	}
	if w.Len() < need {
		return Result{}, fmt.Errorf("%s needs %d samples, have %d: %w", kind, need, w.Len(), ErrInsufficient)
	}

	last, _ := w.Last()
	r := Result{
		Kind:        kind,
		Instrument:  instrument,
		Time:        last.Time,
		Reliability: p.Prior(kind),
	}

	switch kind {
	case RSI:
		evalRSI(&r, w, p.RSI)
	case MACD:
		evalMACD(&r, w, p.MACD)
	case Bollinger:
		evalBollinger(&r, w, p.Bollinger)
	case MACrossover:
		evalCrossover(&r, w, p.MA)
	case Stochastic:
		k, _ := StochasticK(toBars(w), p.Stochastic.Period)
		r.Values = map[string]float64{"k": k}
		r.Score = oscillatorScore(k, 0, 100, p.Stochastic)
	case WilliamsR:
		v, _ := CalculateWilliamsR(toBars(w), p.WilliamsR.Period)
		r.Values = map[string]float64{"r": v}
		r.Score = oscillatorScore(v, -100, 0, p.WilliamsR)
	}

	r.Score = clamp(r.Score, -1, 1)
	r.Reliability = clamp(r.Reliability, 0, 1)
	return r, nil
}

func evalRSI(r *Result, w market.Window, p OscillatorParams) {
	rsi := CalculateRSI(w.Closes(), p.Period)
	r.Values = map[string]float64{"rsi": rsi.Value}
	r.Score = oscillatorScore(rsi.Value, 0, 100, p)
}

func evalMACD(r *Result, w market.Window, p MACDParams) {
	closes := w.Closes()
	fast := EMASeries(closes, p.Fast)
	slow := EMASeries(closes, p.Slow)

	// Align the fast series with the shorter slow series.
	offset := len(fast) - len(slow)
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}
	signal := EMASeries(line, p.Signal)

	macd := line[len(line)-1]
	sig := signal[len(signal)-1]
	hist := macd - sig

	if len(signal) >= 2 {
		prevHist := line[len(line)-2] - signal[len(signal)-2]
		if (prevHist <= 0 && hist > 0) || (prevHist >= 0 && hist < 0) {
			r.Crossover = true
			r.Reliability += p.CrossoverBoost
		}
	}

	atr := CalculateATR(toBars(w), p.ATRPeriod).Value
	r.Values = map[string]float64{
		"macd":      macd,
		"signal":    sig,
		"histogram": hist,
		"atr":       atr,
	}
	r.Score = normalise(macd, atr)
}

func evalBollinger(r *Result, w market.Window, p BollingerParams) {
	closes := w.Closes()
	middle := SMA(closes, p.Period)
	sd := StdDev(closes, p.Period)
	upper := middle + p.K*sd
	lower := middle - p.K*sd

	pctB := 0.5
	if upper > lower {
		pctB = (closes[len(closes)-1] - lower) / (upper - lower)
	}
	bandwidth := 0.0
	if middle > 0 {
		bandwidth = (upper - lower) / middle
	}

	r.Values = map[string]float64{
		"middle":    middle,
		"upper":     upper,
		"lower":     lower,
		"percent_b": pctB,
		"bandwidth": bandwidth,
	}
	r.Score = 2*pctB - 1
}

func evalCrossover(r *Result, w market.Window, p CrossoverParams) {
	closes := w.Closes()
	fast := SMA(closes, p.Fast)
	slow := SMA(closes, p.Slow)
	atr := CalculateATR(toBars(w), p.ATRPeriod).Value
	spread := fast - slow

	r.Values = map[string]float64{
		"fast":   fast,
		"slow":   slow,
		"spread": spread,
		"atr":    atr,
	}
	r.Score = normalise(spread, p.ATRMultiple*atr)
}

// normalise squashes v measured in units of scale into [-1,+1]. A zero
// scale keeps only the sign.
func normalise(v, scale float64) float64 {
	if scale <= 0 {
		return sign(v)
	}
	return math.Tanh(v / scale)
}

// oscillatorScore maps a bounded reading to [-1,+1]: the sign is the side of
// the midline, the magnitude reaches 0.5 at the threshold and 1 at the bound.
func oscillatorScore(v, floor, ceil float64, p OscillatorParams) float64 {
	mid := (floor + ceil) / 2
	v = clamp(v, floor, ceil)
	switch {
	case v > mid:
		if v <= p.Overbought {
			return 0.5 * (v - mid) / (p.Overbought - mid)
		}
		return 0.5 + 0.5*(v-p.Overbought)/(ceil-p.Overbought)
	case v < mid:
		if v >= p.Oversold {
			return -0.5 * (mid - v) / (mid - p.Oversold)
		}
		return -0.5 - 0.5*(p.Oversold-v)/(p.Oversold-floor)
	default:
		return 0
	}
}

func toBars(w market.Window) []PriceBar {
	bars := make([]PriceBar, len(w))
	for i, s := range w {
		bars[i] = PriceBar{High: s.High, Low: s.Low, Close: s.Close}
	}
	return bars
}

// ATR returns the average true range of the window, or 0 when the window
// is too short.
func ATR(w market.Window, period int) float64 {
	return CalculateATR(toBars(w), period).Value
}
