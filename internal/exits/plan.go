package exits

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/fusionrun/internal/domain"
)

const epsilon = 1e-9

// ErrLevelConsumed is returned when a ladder level is consumed twice.
var ErrLevelConsumed = errors.New("ladder level already consumed")

// StopKind selects how the protective stop is placed and maintained.
type StopKind string

const (
	StopFixed      StopKind = "fixed"      // entry -/+ fixed percentage
	StopVolatility StopKind = "volatility" // entry -/+ k * ATR at entry
	StopTrailing   StopKind = "trailing"   // ratchets behind the best price
)

// StopSpec describes the stop of one position. Price is the live threshold.
type StopSpec struct {
	Kind        StopKind `json:"kind"`
	Pct         float64  `json:"pct,omitempty"`
	ATRMultiple float64  `json:"atr_multiple,omitempty"`
	ATR         float64  `json:"atr,omitempty"`
	Price       float64  `json:"price"`
}

// LadderStep is one configured take-profit rung. OffsetPct is a percentage
// move from entry, Fraction is the share of the initial size to close.
type LadderStep struct {
	OffsetPct float64 `yaml:"offset_pct" json:"offset_pct"`
	Fraction  float64 `yaml:"fraction" json:"fraction"`
}

// TakeProfitLevel is a ladder rung bound to a position.
type TakeProfitLevel struct {
	OffsetPct float64 `json:"offset_pct"`
	Fraction  float64 `json:"fraction"`
	Price     float64 `json:"price"`
	Consumed  bool    `json:"consumed"`
}

// TrailingState tracks the most favourable price since entry.
type TrailingState struct {
	Extreme float64 `json:"extreme"`
}

// Plan is the exit policy attached to one position.
type Plan struct {
	Direction  domain.Direction  `json:"direction"`
	EntryPrice float64           `json:"entry_price"`
	EntryTime  time.Time         `json:"entry_time"`
	Stop       StopSpec          `json:"stop"`
	Ladder     []TakeProfitLevel `json:"ladder"`
	Trailing   TrailingState     `json:"trailing"`
	MaxHold    time.Duration     `json:"max_hold"`
}

// Clone returns a deep copy.
func (p Plan) Clone() Plan {
	p.Ladder = append([]TakeProfitLevel(nil), p.Ladder...)
	return p
}

// StopDistance returns the relative distance between entry and the stop.
func (p Plan) StopDistance() float64 {
	if p.EntryPrice <= 0 || p.Stop.Price <= 0 {
		return 0
	}
	return math.Abs(p.EntryPrice-p.Stop.Price) / p.EntryPrice
}

// NextLevel returns the first unconsumed ladder level.
func (p Plan) NextLevel() (int, TakeProfitLevel, bool) {
	for i, lvl := range p.Ladder {
		if !lvl.Consumed {
			return i, lvl, true
		}
	}
	return -1, TakeProfitLevel{}, false
}

// lastOpenLevel reports whether i is the only unconsumed level left.
func (p Plan) lastOpenLevel(i int) bool {
	for j := i + 1; j < len(p.Ladder); j++ {
		if !p.Ladder[j].Consumed {
			return false
		}
	}
	return true
}

// Consume marks a ladder level as fired.
func (p *Plan) Consume(level int) error {
	if level < 0 || level >= len(p.Ladder) {
		return fmt.Errorf("ladder level %d out of range [0,%d)", level, len(p.Ladder))
	}
	if p.Ladder[level].Consumed {
		return fmt.Errorf("%w: level %d", ErrLevelConsumed, level)
	}
	p.Ladder[level].Consumed = true
	return nil
}

// Ratchet moves a trailing stop in the favourable direction only. It
// returns true when the threshold moved.
func (p *Plan) Ratchet(price float64) bool {
	if p.Stop.Kind != StopTrailing || price <= 0 {
		return false
	}
	switch p.Direction {
	case domain.Long:
		if price > p.Trailing.Extreme {
			p.Trailing.Extreme = price
		}
		candidate := p.Trailing.Extreme - p.Trailing.Extreme*p.Stop.Pct/100
		if candidate > p.Stop.Price {
			p.Stop.Price = candidate
			return true
		}
	case domain.Short:
		if p.Trailing.Extreme == 0 || price < p.Trailing.Extreme {
			p.Trailing.Extreme = price
		}
		candidate := p.Trailing.Extreme + p.Trailing.Extreme*p.Stop.Pct/100
		if p.Stop.Price == 0 || candidate < p.Stop.Price {
			p.Stop.Price = candidate
			return true
		}
	}
	return false
}

// Validate checks the ladder shape and stop placement.
func (p Plan) Validate() error {
	if !p.Direction.Tradable() {
		return fmt.Errorf("plan direction %q is not tradable", p.Direction)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("entry price must be positive, got %.8f", p.EntryPrice)
	}
	if p.Stop.Price <= 0 {
		return errors.New("stop price must be positive")
	}
	if (p.Direction == domain.Long && p.Stop.Price >= p.EntryPrice) ||
		(p.Direction == domain.Short && p.Stop.Price <= p.EntryPrice) {
		return fmt.Errorf("stop %.8f on wrong side of entry %.8f for %s", p.Stop.Price, p.EntryPrice, p.Direction)
	}
	steps := make([]LadderStep, len(p.Ladder))
	for i, lvl := range p.Ladder {
		steps[i] = LadderStep{OffsetPct: lvl.OffsetPct, Fraction: lvl.Fraction}
	}
	return validateLadder(steps)
}

func validateLadder(steps []LadderStep) error {
	total := 0.0
	for i, s := range steps {
		if s.OffsetPct <= 0 {
			return fmt.Errorf("ladder level %d: offset must be positive, got %.4f", i, s.OffsetPct)
		}
		if i > 0 && s.OffsetPct <= steps[i-1].OffsetPct {
			return fmt.Errorf("ladder level %d: offsets must be strictly increasing", i)
		}
		if s.Fraction <= 0 || s.Fraction > 1 {
			return fmt.Errorf("ladder level %d: fraction %.4f outside (0,1]", i, s.Fraction)
		}
		total += s.Fraction
	}
	if total > 1+epsilon {
		return fmt.Errorf("ladder fractions sum to %.4f, above 1", total)
	}
	return nil
}

// ScaledLadder spreads levels evenly up to maxPct with equal fractions.
func ScaledLadder(levels int, maxPct float64) []LadderStep {
	if levels <= 0 || maxPct <= 0 {
		return nil
	}
	out := make([]LadderStep, levels)
	for i := range out {
		out[i] = LadderStep{
			OffsetPct: maxPct * float64(i+1) / float64(levels),
			Fraction:  1 / float64(levels),
		}
	}
	return out
}

// levelPrice converts an offset into an absolute price for direction.
func levelPrice(dir domain.Direction, entry, offsetPct float64) float64 {
	return entry + dir.Sign()*entry*offsetPct/100
}
