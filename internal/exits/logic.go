// Package exits decides when and how much of an open position to close.
package exits

import (
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/fusionrun/internal/domain"
)

// Reason represents why a position is being reduced or closed
type Reason int

const (
	NoExit            Reason = iota
	StopLoss                 // Highest precedence: stop threshold crossed
	TakeProfitPartial        // A ladder level closed part of the position
	TakeProfit               // Final ladder level closed the remainder
	Timeout                  // Maximum holding duration reached
	Manual                   // Operator requested close
	SignalReversal           // Fused signal turned against the position
)

func (r Reason) String() string {
	switch r {
	case NoExit:
		return "no_exit"
	case StopLoss:
		return "stop_loss"
	case TakeProfitPartial:
		return "take_profit_partial"
	case TakeProfit:
		return "take_profit"
	case Timeout:
		return "timeout"
	case Manual:
		return "manual"
	case SignalReversal:
		return "signal_reversal"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reason) UnmarshalText(text []byte) error {
	for c := NoExit; c <= SignalReversal; c++ {
		if c.String() == string(text) {
			*r = c
			return nil
		}
	}
	return fmt.Errorf("unknown exit reason %q", text)
}

// Action is what the decision asks the coordinator to do.
type Action int

const (
	Hold Action = iota
	PartialClose
	Close
)

func (a Action) String() string {
	switch a {
	case PartialClose:
		return "partial_close"
	case Close:
		return "close"
	default:
		return "hold"
	}
}

// Decision contains the exit evaluation outcome
type Decision struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Reason        Reason    `json:"reason"`
	Fraction      float64   `json:"fraction"` // share of the initial size to close
	Level         int       `json:"level"`    // ladder level, -1 when not a take-profit
	Price         float64   `json:"price"`
	Threshold     float64   `json:"threshold"`
	TriggeredBy   string    `json:"triggered_by"`
	UnrealizedPnL float64   `json:"unrealized_pnl"` // % return
	HoursHeld     float64   `json:"hours_held"`
	Plan          Plan      `json:"-"` // plan after trailing updates
}

// ShouldExit reports whether the decision closes any size.
func (d Decision) ShouldExit() bool {
	return d.Action != Hold
}

// Config contains exit rule configuration
type Config struct {
	Stop        StopKind      `yaml:"stop"`
	StopPct     float64       `yaml:"stop_pct"`     // fixed stop, percent
	ATRMultiple float64       `yaml:"atr_multiple"` // volatility stop
	TrailingPct float64       `yaml:"trailing_pct"` // trailing stop, percent
	Ladder      []LadderStep  `yaml:"ladder"`
	RewardRisk  float64       `yaml:"reward_risk"` // single target when no ladder is set
	MaxHold     time.Duration `yaml:"max_hold"`

	// ExitOnReversal closes a position when the fused signal turns to the
	// opposite direction and no other rule fired.
	ExitOnReversal bool `yaml:"exit_on_reversal"`
}

// DefaultConfig returns the default exit configuration
func DefaultConfig() Config {
	return Config{
		Stop:        StopFixed,
		StopPct:     2.0,
		ATRMultiple: 2.0,
		TrailingPct: 2.0,
		Ladder:      []LadderStep{{OffsetPct: 4.0, Fraction: 1.0}},
		RewardRisk:  2.0,
		MaxHold:     48 * time.Hour,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Stop {
	case StopFixed:
		if c.StopPct <= 0 || c.StopPct >= 100 {
			errs = append(errs, fmt.Errorf("stop_pct %.2f outside (0,100)", c.StopPct))
		}
	case StopVolatility:
		if c.ATRMultiple <= 0 {
			errs = append(errs, errors.New("atr_multiple must be positive"))
		}
		if c.StopPct <= 0 || c.StopPct >= 100 {
			errs = append(errs, fmt.Errorf("stop_pct %.2f outside (0,100), used when ATR is unavailable", c.StopPct))
		}
	case StopTrailing:
		if c.TrailingPct <= 0 || c.TrailingPct >= 100 {
			errs = append(errs, fmt.Errorf("trailing_pct %.2f outside (0,100)", c.TrailingPct))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown stop kind %q", c.Stop))
	}
	if err := validateLadder(c.Ladder); err != nil {
		errs = append(errs, err)
	}
	if len(c.Ladder) == 0 && c.RewardRisk <= 0 {
		errs = append(errs, errors.New("reward_risk must be positive when no ladder is configured"))
	}
	if c.MaxHold < 0 {
		errs = append(errs, errors.New("max_hold must not be negative"))
	}
	return errors.Join(errs...)
}

// Evaluator evaluates exit conditions with proper precedence
type Evaluator struct {
	config Config
}

// NewEvaluator creates a new exit evaluator
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() Config {
	return e.config
}

// NewPlan builds the exit plan for a fresh entry. atr is the range measure
// at entry; it is only used by volatility stops and ignored when not
// positive.
func (e *Evaluator) NewPlan(dir domain.Direction, entry float64, at time.Time, atr float64) (Plan, error) {
	p := Plan{
		Direction:  dir,
		EntryPrice: entry,
		EntryTime:  at,
		MaxHold:    e.config.MaxHold,
	}
	sgn := dir.Sign()

	switch e.config.Stop {
	case StopVolatility:
		p.Stop = StopSpec{Kind: StopVolatility, ATRMultiple: e.config.ATRMultiple, ATR: atr}
		if atr > 0 {
			p.Stop.Price = entry - sgn*e.config.ATRMultiple*atr
		} else {
			p.Stop.Pct = e.config.StopPct
			p.Stop.Price = entry - sgn*entry*e.config.StopPct/100
		}
	case StopTrailing:
		p.Stop = StopSpec{Kind: StopTrailing, Pct: e.config.TrailingPct}
		p.Stop.Price = entry - sgn*entry*e.config.TrailingPct/100
		p.Trailing.Extreme = entry
	default:
		p.Stop = StopSpec{Kind: StopFixed, Pct: e.config.StopPct}
		p.Stop.Price = entry - sgn*entry*e.config.StopPct/100
	}

	steps := e.config.Ladder
	if len(steps) == 0 {
		steps = []LadderStep{{OffsetPct: e.config.RewardRisk * p.StopDistance() * 100, Fraction: 1}}
	}
	for _, s := range steps {
		p.Ladder = append(p.Ladder, TakeProfitLevel{
			OffsetPct: s.OffsetPct,
			Fraction:  s.Fraction,
			Price:     levelPrice(dir, entry, s.OffsetPct),
		})
	}

	if err := p.Validate(); err != nil {
		return Plan{}, fmt.Errorf("invalid exit plan: %w", err)
	}
	return p, nil
}

// Evaluate performs exit evaluation with proper precedence: stop, then
// take-profit ladder, then holding duration. remaining is the open share
// of the initial size. The returned decision carries the plan with any
// trailing update applied; ladder levels are only consumed once the exit
// fill is booked.
func (e *Evaluator) Evaluate(plan Plan, remaining, price float64, now time.Time) Decision {
	return e.EvaluateSignal(plan, remaining, price, now, domain.Neutral)
}

// EvaluateSignal is Evaluate with the latest fused signal direction. When
// ExitOnReversal is set, a tradable signal against the position closes it
// after every other rule.
func (e *Evaluator) EvaluateSignal(plan Plan, remaining, price float64, now time.Time, signal domain.Direction) Decision {
	d := Decision{
		Timestamp: now,
		Action:    Hold,
		Reason:    NoExit,
		Level:     -1,
		Price:     price,
		HoursHeld: now.Sub(plan.EntryTime).Hours(),
		Plan:      plan.Clone(),
	}
	if price <= 0 || plan.EntryPrice <= 0 || remaining <= epsilon {
		return d
	}

	d.Plan.Ratchet(price)
	dir := plan.Direction
	d.UnrealizedPnL = dir.Sign() * (price/plan.EntryPrice - 1) * 100

	// 1. Stop loss (highest precedence)
	if stop := d.Plan.Stop.Price; stop > 0 && against(dir, price, stop) {
		d.Action = Close
		d.Reason = StopLoss
		d.Fraction = remaining
		d.Threshold = stop
		d.TriggeredBy = fmt.Sprintf("%s stop: price %.4f crossed %.4f", d.Plan.Stop.Kind, price, stop)
	}

	// 2. Take-profit ladder, one level per evaluation
	if !d.ShouldExit() {
		if i, lvl, ok := d.Plan.NextLevel(); ok && favourable(dir, price, lvl.Price) {
			d.Level = i
			d.Threshold = lvl.Price
			if d.Plan.lastOpenLevel(i) || lvl.Fraction >= remaining-epsilon {
				d.Action = Close
				d.Reason = TakeProfit
				d.Fraction = remaining
			} else {
				d.Action = PartialClose
				d.Reason = TakeProfitPartial
				d.Fraction = lvl.Fraction
			}
			d.TriggeredBy = fmt.Sprintf("take-profit level %d: price %.4f reached %.4f (+%.2f%%)", i+1, price, lvl.Price, lvl.OffsetPct)
		}
	}

	// 3. Holding duration
	if !d.ShouldExit() && plan.MaxHold > 0 && now.Sub(plan.EntryTime) >= plan.MaxHold {
		d.Action = Close
		d.Reason = Timeout
		d.Fraction = remaining
		d.TriggeredBy = fmt.Sprintf("held %.1f hours, limit %.1f", d.HoursHeld, plan.MaxHold.Hours())
	}

	// 4. Signal reversal
	if !d.ShouldExit() && e.config.ExitOnReversal && signal.Tradable() && signal != dir {
		d.Action = Close
		d.Reason = SignalReversal
		d.Fraction = remaining
		d.TriggeredBy = fmt.Sprintf("signal turned %s against %s position", signal, dir)
	}

	return d
}

// ManualClose returns a decision that closes the remainder immediately.
func ManualClose(plan Plan, remaining, price float64, now time.Time) Decision {
	return Decision{
		Timestamp:     now,
		Action:        Close,
		Reason:        Manual,
		Fraction:      remaining,
		Level:         -1,
		Price:         price,
		TriggeredBy:   "manual close",
		UnrealizedPnL: plan.Direction.Sign() * (price/plan.EntryPrice - 1) * 100,
		HoursHeld:     now.Sub(plan.EntryTime).Hours(),
		Plan:          plan.Clone(),
	}
}

// against reports whether price has crossed the stop for direction.
func against(dir domain.Direction, price, stop float64) bool {
	if dir == domain.Short {
		return price >= stop
	}
	return price <= stop
}

// favourable reports whether price has reached the target for direction.
func favourable(dir domain.Direction, price, target float64) bool {
	if dir == domain.Short {
		return price <= target
	}
	return price >= target
}

// Summary returns a concise exit evaluation summary
func (d Decision) Summary() string {
	if d.ShouldExit() {
		return fmt.Sprintf("EXIT %s (%s %.0f%%): %.2f%% PnL after %.1fh",
			d.Reason, d.Action, d.Fraction*100, d.UnrealizedPnL, d.HoursHeld)
	}
	return fmt.Sprintf("HOLD: %.2f%% PnL after %.1fh", d.UnrealizedPnL, d.HoursHeld)
}
