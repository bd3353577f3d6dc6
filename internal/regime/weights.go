package regime

import (
	"fmt"

	"github.com/sawpanic/fusionrun/internal/indicators"
)

// Profile defines per-indicator weight multipliers for a specific regime
type Profile struct {
	Regime      Regime             `json:"regime" yaml:"-"`
	Name        string             `json:"name" yaml:"name"`
	Multipliers map[string]float64 `json:"multipliers" yaml:"multipliers"` // indicator -> multiplier
}

// Multiplier returns the weight multiplier for kind, 1 when unset.
func (p Profile) Multiplier(kind indicators.Kind) float64 {
	if m, ok := p.Multipliers[kind.String()]; ok {
		return m
	}
	return 1.0
}

// DefaultProfiles returns the regime weight tables: trend followers lead in
// trending markets, oscillators lead in ranging markets.
func DefaultProfiles() map[Regime]Profile {
	return map[Regime]Profile{
		Trending: {
			Regime: Trending,
			Name:   "Trending",
			Multipliers: map[string]float64{
				indicators.MACD.String():        1.5,
				indicators.MACrossover.String(): 1.5,
				indicators.Bollinger.String():   1.2,
				indicators.RSI.String():         0.7,
				indicators.Stochastic.String():  0.6,
				indicators.WilliamsR.String():   0.6,
			},
		},
		Ranging: {
			Regime: Ranging,
			Name:   "Ranging",
			Multipliers: map[string]float64{
				indicators.MACD.String():        0.7,
				indicators.MACrossover.String(): 0.6,
				indicators.Bollinger.String():   1.0,
				indicators.RSI.String():         1.4,
				indicators.Stochastic.String():  1.3,
				indicators.WilliamsR.String():   1.3,
			},
		},
	}
}

// ValidateProfiles checks that both regimes have a profile and that every
// multiplier names a known indicator and is non-negative.
func ValidateProfiles(profiles map[Regime]Profile) error {
	for _, r := range []Regime{Trending, Ranging} {
		p, ok := profiles[r]
		if !ok {
			return fmt.Errorf("missing weight profile for %s", r)
		}
		for name, m := range p.Multipliers {
			if _, err := indicators.ParseKind(name); err != nil {
				return fmt.Errorf("profile %s: %w", r, err)
			}
			if m < 0 {
				return fmt.Errorf("profile %s: negative multiplier %.2f for %s", r, m, name)
			}
		}
	}
	return nil
}
