package indicators

import (
	"errors"
	"fmt"
)

// OscillatorParams configures a bounded oscillator.
type OscillatorParams struct {
	Period     int     `yaml:"period"`
	Overbought float64 `yaml:"overbought"`
	Oversold   float64 `yaml:"oversold"`
}

// MACDParams configures MACD and its normalisation.
type MACDParams struct {
	Fast           int     `yaml:"fast"`
	Slow           int     `yaml:"slow"`
	Signal         int     `yaml:"signal"`
	ATRPeriod      int     `yaml:"atr_period"`
	CrossoverBoost float64 `yaml:"crossover_boost"`
}

// BollingerParams configures the bands.
type BollingerParams struct {
	Period int     `yaml:"period"`
	K      float64 `yaml:"k"`
}

// CrossoverParams configures the moving average crossover.
type CrossoverParams struct {
	Fast        int     `yaml:"fast"`
	Slow        int     `yaml:"slow"`
	ATRPeriod   int     `yaml:"atr_period"`
	ATRMultiple float64 `yaml:"atr_multiple"`
}

// Params holds the per-indicator configuration.
type Params struct {
	Enabled     []Kind             `yaml:"enabled"`
	RSI         OscillatorParams   `yaml:"rsi"`
	MACD        MACDParams         `yaml:"macd"`
	Bollinger   BollingerParams    `yaml:"bollinger"`
	MA          CrossoverParams    `yaml:"ma_crossover"`
	Stochastic  OscillatorParams   `yaml:"stochastic"`
	WilliamsR   OscillatorParams   `yaml:"williams_r"`
	Reliability map[string]float64 `yaml:"reliability"`
}

const defaultReliability = 0.6

// DefaultParams returns the classic textbook settings.
func DefaultParams() Params {
	return Params{
		Enabled:    append([]Kind(nil), AllKinds...),
		RSI:        OscillatorParams{Period: 14, Overbought: 70, Oversold: 30},
		MACD:       MACDParams{Fast: 12, Slow: 26, Signal: 9, ATRPeriod: 14, CrossoverBoost: 0.1},
		Bollinger:  BollingerParams{Period: 20, K: 2},
		MA:         CrossoverParams{Fast: 10, Slow: 50, ATRPeriod: 14, ATRMultiple: 2},
		Stochastic: OscillatorParams{Period: 14, Overbought: 80, Oversold: 20},
		WilliamsR:  OscillatorParams{Period: 14, Overbought: -20, Oversold: -80},
		Reliability: map[string]float64{
			RSI.String():         0.7,
			MACD.String():        0.75,
			Bollinger.String():   0.65,
			MACrossover.String(): 0.8,
			Stochastic.String():  0.6,
			WilliamsR.String():   0.6,
		},
	}
}

// MinLength returns the number of samples the indicator needs.
func (p Params) MinLength(kind Kind) int {
	switch kind {
	case RSI:
		return p.RSI.Period + 1
	case MACD:
		return max(p.MACD.Slow+p.MACD.Signal, p.MACD.ATRPeriod+1)
	case Bollinger:
		return p.Bollinger.Period
	case MACrossover:
		return max(p.MA.Slow, p.MA.ATRPeriod+1)
	case Stochastic:
		return p.Stochastic.Period
	case WilliamsR:
		return p.WilliamsR.Period
	default:
		return 0
	}
}

// Lookback returns the longest window any enabled indicator needs.
func (p Params) Lookback() int {
	n := 0
	for _, k := range p.Enabled {
		n = max(n, p.MinLength(k))
	}
	return n
}

// Prior returns the configured reliability for kind.
func (p Params) Prior(kind Kind) float64 {
	if v, ok := p.Reliability[kind.String()]; ok {
		return v
	}
	return defaultReliability
}

// Validate reports every invalid setting.
func (p Params) Validate() error {
	var errs []error
	if len(p.Enabled) == 0 {
		errs = append(errs, errors.New("no indicators enabled"))
	}
	for _, k := range p.Enabled {
		if k < RSI || k > WilliamsR {
			errs = append(errs, fmt.Errorf("unknown indicator %d", int(k)))
		}
	}

	errs = append(errs, validateOscillator("rsi", p.RSI, 0, 100)...)
	errs = append(errs, validateOscillator("stochastic", p.Stochastic, 0, 100)...)
	errs = append(errs, validateOscillator("williams_r", p.WilliamsR, -100, 0)...)

	if p.MACD.Fast <= 0 || p.MACD.Slow <= p.MACD.Fast || p.MACD.Signal <= 0 || p.MACD.ATRPeriod <= 0 {
		errs = append(errs, fmt.Errorf("macd: need 0 < fast < slow and positive signal/atr periods, got %+v", p.MACD))
	}
	if p.Bollinger.Period < 2 || p.Bollinger.K <= 0 {
		errs = append(errs, fmt.Errorf("bollinger: need period >= 2 and k > 0, got %+v", p.Bollinger))
	}
	if p.MA.Fast <= 0 || p.MA.Slow <= p.MA.Fast || p.MA.ATRPeriod <= 0 || p.MA.ATRMultiple <= 0 {
		errs = append(errs, fmt.Errorf("ma_crossover: need 0 < fast < slow and positive atr settings, got %+v", p.MA))
	}
	for name, v := range p.Reliability {
		if _, err := ParseKind(name); err != nil {
			errs = append(errs, fmt.Errorf("reliability: %w", err))
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("reliability %s: %.2f outside [0,1]", name, v))
		}
	}
	return errors.Join(errs...)
}

func validateOscillator(name string, o OscillatorParams, floor, ceil float64) []error {
	var errs []error
	mid := (floor + ceil) / 2
	if o.Period <= 0 {
		errs = append(errs, fmt.Errorf("%s: period must be positive", name))
	}
	if !(floor < o.Oversold && o.Oversold < mid && mid < o.Overbought && o.Overbought < ceil) {
		errs = append(errs, fmt.Errorf("%s: thresholds must satisfy %.0f < oversold < %.0f < overbought < %.0f", name, floor, mid, ceil))
	}
	return errs
}
