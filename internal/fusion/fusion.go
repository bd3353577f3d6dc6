// Package fusion combines indicator readings into one directional signal.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/indicators"
	"github.com/sawpanic/fusionrun/internal/regime"
)

// Config controls consensus and regime weighting.
type Config struct {
	ConsensusThreshold float64                          `yaml:"consensus_threshold"`
	MinIndicators      int                              `yaml:"min_indicators"`
	Regime             regime.Config                    `yaml:"regime"`
	Profiles           map[regime.Regime]regime.Profile `yaml:"-"`
}

// DefaultConfig returns the default fusion configuration.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: 0.6,
		MinIndicators:      3,
		Regime:             regime.DefaultConfig(),
		Profiles:           regime.DefaultProfiles(),
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		errs = append(errs, fmt.Errorf("consensus_threshold %.2f outside (0,1]", c.ConsensusThreshold))
	}
	if c.MinIndicators < 1 {
		errs = append(errs, fmt.Errorf("min_indicators must be at least 1, got %d", c.MinIndicators))
	}
	if c.Profiles != nil {
		if err := regime.ValidateProfiles(c.Profiles); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Signal is the fused view of one instrument at one point in time.
type Signal struct {
	Instrument    string              `json:"instrument"`
	Time          time.Time           `json:"time"`
	Direction     domain.Direction    `json:"direction"`
	Strength      float64             `json:"strength"`
	Confidence    float64             `json:"confidence"`
	Score         float64             `json:"score"`
	Agreement     float64             `json:"agreement"`
	Regime        regime.Regime       `json:"regime"`
	Contributions []indicators.Result `json:"contributions"`
	Detection     regime.Detection    `json:"detection"`
}

// Engine fuses indicator results. It holds no mutable state, so one engine
// can serve every instrument concurrently.
type Engine struct {
	cfg      Config
	profiles map[regime.Regime]regime.Profile
}

// NewEngine creates a fusion engine.
func NewEngine(cfg Config) *Engine {
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = regime.DefaultProfiles()
	}
	return &Engine{cfg: cfg, profiles: profiles}
}

// Fuse combines the results for one instrument. The output depends only on
// the set of results, not their order.
func (e *Engine) Fuse(instrument string, results []indicators.Result) Signal {
	sorted := append([]indicators.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Kind < sorted[j].Kind })

	sig := Signal{
		Instrument:    instrument,
		Direction:     domain.Neutral,
		Contributions: sorted,
	}
	for _, r := range sorted {
		if r.Time.After(sig.Time) {
			sig.Time = r.Time
		}
	}

	if len(sorted) < e.cfg.MinIndicators {
		return sig
	}

	sig.Detection = regime.Detect(sorted, e.cfg.Regime)
	sig.Regime = sig.Detection.Regime
	profile := e.profiles[sig.Regime]

	weighted, totalWeight := 0.0, 0.0
	for _, r := range sorted {
		w := r.Reliability * profile.Multiplier(r.Kind)
		weighted += w * r.Score
		totalWeight += w
	}
	if totalWeight <= 0 {
		return sig
	}

	mean := clamp(weighted/totalWeight, -1, 1)
	sig.Score = mean
	sig.Strength = math.Abs(mean)
	if mean == 0 {
		return sig
	}

	agreeing := 0
	reliability := 0.0
	for _, r := range sorted {
		if sameSign(r.Score, mean) {
			agreeing++
			reliability += r.Reliability
		}
	}
	sig.Agreement = float64(agreeing) / float64(len(sorted))
	if agreeing > 0 {
		reliability /= float64(agreeing)
	}
	sig.Confidence = clamp(0.5*sig.Agreement+0.5*reliability, 0, 1)

	if sig.Agreement < e.cfg.ConsensusThreshold {
		return sig
	}
	if mean > 0 {
		sig.Direction = domain.Long
	} else {
		sig.Direction = domain.Short
	}
	return sig
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
