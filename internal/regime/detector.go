// Package regime classifies the market as trending or ranging from the
// indicator readings of one evaluation cycle.
package regime

import (
	"math"

	"github.com/sawpanic/fusionrun/internal/indicators"
)

// Regime represents the current market regime classification
type Regime int

const (
	Ranging Regime = iota
	Trending
)

func (r Regime) String() string {
	switch r {
	case Trending:
		return "trending"
	case Ranging:
		return "ranging"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Regime) UnmarshalText(text []byte) error {
	if string(text) == Trending.String() {
		*r = Trending
	} else {
		*r = Ranging
	}
	return nil
}

// Config holds the voting thresholds
type Config struct {
	DispersionCeiling  float64 `yaml:"dispersion_ceiling"`  // score stddev at or below votes trending
	TrendThreshold     float64 `yaml:"trend_threshold"`     // |mean trend-class score| at or above votes trending
	BandwidthExpansion float64 `yaml:"bandwidth_expansion"` // Bollinger bandwidth at or above votes trending
}

// DefaultConfig returns the default voting thresholds.
func DefaultConfig() Config {
	return Config{
		DispersionCeiling:  0.45,
		TrendThreshold:     0.35,
		BandwidthExpansion: 0.04,
	}
}

// Detection contains the regime classification result
type Detection struct {
	Regime     Regime             `json:"regime"`
	Confidence float64            `json:"confidence"` // share of votes for the winner
	Signals    map[string]float64 `json:"signals"`
	Votes      map[string]string  `json:"votes"`
}

// Detect performs regime classification using majority voting over score
// dispersion, trend-class strength and band width. Ties and empty input
// fall back to Ranging.
func Detect(results []indicators.Result, cfg Config) Detection {
	d := Detection{
		Regime:  Ranging,
		Signals: make(map[string]float64),
		Votes:   make(map[string]string),
	}
	if len(results) == 0 {
		return d
	}

	scores := make([]float64, 0, len(results))
	trendSum, trendCount := 0.0, 0
	bandwidth, hasBandwidth := 0.0, false
	for _, r := range results {
		scores = append(scores, r.Score)
		if r.Kind.Class() == indicators.ClassTrend {
			trendSum += r.Score
			trendCount++
		}
		if r.Kind == indicators.Bollinger {
			bandwidth, hasBandwidth = r.Values["bandwidth"]
		}
	}

	dispersion := stddev(scores)
	d.Signals["dispersion"] = dispersion
	d.Votes["dispersion"] = vote(dispersion <= cfg.DispersionCeiling)

	if trendCount > 0 {
		strength := math.Abs(trendSum / float64(trendCount))
		d.Signals["trend_strength"] = strength
		d.Votes["trend_strength"] = vote(strength >= cfg.TrendThreshold)
	}
	if hasBandwidth {
		d.Signals["bandwidth"] = bandwidth
		d.Votes["bandwidth"] = vote(bandwidth >= cfg.BandwidthExpansion)
	}

	d.Regime, d.Confidence = majorityVote(d.Votes)
	return d
}

func vote(trending bool) string {
	if trending {
		return Trending.String()
	}
	return Ranging.String()
}

// majorityVote counts votes; a tie goes to Ranging.
func majorityVote(votes map[string]string) (Regime, float64) {
	trending, ranging := 0, 0
	for _, v := range votes {
		if v == Trending.String() {
			trending++
		} else {
			ranging++
		}
	}

	total := trending + ranging
	if total == 0 {
		return Ranging, 0
	}
	if trending > ranging {
		return Trending, float64(trending) / float64(total)
	}
	return Ranging, float64(ranging) / float64(total)
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
