// Package risk turns fused signals into risk-bounded entry intents.
package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/fusion"
	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

// RejectReason explains why no entry was proposed.
type RejectReason string

const (
	ReasonNeutralSignal       RejectReason = "neutral_signal"
	ReasonWeakSignal          RejectReason = "weak_signal"
	ReasonLowConfidence       RejectReason = "low_confidence"
	ReasonPositionExists      RejectReason = "position_exists"
	ReasonMaxPositions        RejectReason = "max_positions"
	ReasonDailyLossLimit      RejectReason = "daily_loss_limit"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonInvalidPrice        RejectReason = "invalid_price"
	ReasonInvalidStop         RejectReason = "invalid_stop"
	ReasonNoEdge              RejectReason = "no_edge"
	ReasonCorrelatedExposure  RejectReason = "correlated_exposure"
	ReasonBelowMinimum        RejectReason = "below_minimum"
)

// Rejection is the outcome of a gate refusing an entry. It is an expected
// result, not a failure.
type Rejection struct {
	Reason     RejectReason
	Instrument string
	Detail     string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s rejected: %s (%s)", r.Instrument, r.Reason, r.Detail)
}

// Sizer proposes entry intents. It reads the portfolio state it is given
// and never mutates anything.
type Sizer struct {
	cfg   Config
	exits *exits.Evaluator
	corr  correlationTable
}

// NewSizer creates a sizer; the exit evaluator builds the stop used for
// risk sizing.
func NewSizer(cfg Config, ev *exits.Evaluator) *Sizer {
	return &Sizer{
		cfg:   cfg,
		exits: ev,
		corr:  newCorrelationTable(cfg.CorrelationThreshold, cfg.Correlations),
	}
}

// Config returns the sizer configuration.
func (s *Sizer) Config() Config {
	return s.cfg
}

// ProposeEntry evaluates the gates in order and sizes an entry for sig at
// price. atr is the range measure used by volatility stops.
func (s *Sizer) ProposeEntry(sig fusion.Signal, state portfolio.State, price, atr float64) (orders.Intent, *Rejection) {
	reject := func(reason RejectReason, format string, args ...any) (orders.Intent, *Rejection) {
		r := &Rejection{Reason: reason, Instrument: sig.Instrument, Detail: fmt.Sprintf(format, args...)}
		log.Info().
			Str("instrument", sig.Instrument).
			Str("reason", string(reason)).
			Str("direction", string(sig.Direction)).
			Float64("strength", sig.Strength).
			Float64("confidence", sig.Confidence).
			Msg(r.Detail)
		return orders.Intent{}, r
	}

	// Gates, cheapest first.
	if !sig.Direction.Tradable() {
		return reject(ReasonNeutralSignal, "signal is neutral")
	}
	if sig.Strength < s.cfg.MinStrength {
		return reject(ReasonWeakSignal, "strength %.3f below %.3f", sig.Strength, s.cfg.MinStrength)
	}
	if sig.Confidence < s.cfg.MinConfidence {
		return reject(ReasonLowConfidence, "confidence %.3f below %.3f", sig.Confidence, s.cfg.MinConfidence)
	}
	if _, ok := state.Position(sig.Instrument); ok {
		return reject(ReasonPositionExists, "position already open")
	}
	if len(state.Positions) >= s.cfg.MaxPositions {
		return reject(ReasonMaxPositions, "%d positions open, limit %d", len(state.Positions), s.cfg.MaxPositions)
	}
	if daily := state.DailyPnLAt(sig.Time); daily <= -s.cfg.MaxDailyLoss*state.Total {
		return reject(ReasonDailyLossLimit, "daily P&L %.2f breaches limit %.2f", daily, -s.cfg.MaxDailyLoss*state.Total)
	}
	if state.Available <= 0 || state.Available < s.cfg.MinNotional {
		return reject(ReasonInsufficientBalance, "available %.2f below minimum notional %.2f", state.Available, s.cfg.MinNotional)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return reject(ReasonInvalidPrice, "price %.8f", price)
	}

	plan, err := s.exits.NewPlan(sig.Direction, price, sig.Time, atr)
	if err != nil {
		return reject(ReasonInvalidStop, "%v", err)
	}
	stopDistance := plan.StopDistance()
	if stopDistance <= 0 {
		return reject(ReasonInvalidStop, "zero stop distance")
	}

	f := s.kellyFraction(sig.Confidence, state)
	if f <= 0 {
		return reject(ReasonNoEdge, "kelly fraction is zero at confidence %.3f", sig.Confidence)
	}

	notional := f * sig.Strength * state.Available

	riskCap := s.cfg.RiskPerTrade * state.Total / stopDistance
	notional = math.Min(notional, riskCap)

	limit := s.cfg.MaxAggregateExposure * state.Total
	exposure := s.correlatedExposure(sig.Instrument, state)
	headroom := limit - exposure
	if headroom <= 0 {
		return reject(ReasonCorrelatedExposure, "correlated exposure %.2f at limit %.2f", exposure, limit)
	}
	notional = math.Min(notional, headroom)
	notional = math.Min(notional, s.cfg.MaxNotional)
	notional = math.Min(notional, s.Affordable(state.Available))

	qty := decimal.NewFromFloat(notional).
		Div(decimal.NewFromFloat(price)).
		Truncate(s.cfg.QuantityPrecision)
	quantity, _ := qty.Float64()
	notional = quantity * price
	if quantity <= 0 || notional < s.cfg.MinNotional {
		return reject(ReasonBelowMinimum, "notional %.2f below minimum %.2f", notional, s.cfg.MinNotional)
	}

	intent := orders.NewEntry(sig.Instrument, sig.Direction, quantity, price, plan, sig.Time)
	log.Info().
		Str("instrument", sig.Instrument).
		Str("direction", string(sig.Direction)).
		Float64("quantity", quantity).
		Float64("notional", intent.Notional).
		Float64("kelly", f).
		Float64("stop", plan.Stop.Price).
		Float64("stop_distance", stopDistance).
		Float64("risk_cap", riskCap).
		Float64("headroom", headroom).
		Msg("Entry proposed")
	return intent, nil
}

// Affordable returns the largest notional whose entry fee and slippage
// still fit in available.
func (s *Sizer) Affordable(available float64) float64 {
	return available / (1 + s.cfg.CostBufferBps/10000)
}

// kellyFraction returns (b*p - q)/b clamped to [0, KellyCap]. p comes from
// signal confidence, blended with the realised win rate once enough trades
// exist.
func (s *Sizer) kellyFraction(confidence float64, state portfolio.State) float64 {
	p := confidence
	if n := len(state.Trades); n >= s.cfg.MinTradesForWinRate && n > 0 {
		wins := 0
		for _, t := range state.Trades {
			if t.RealizedPnL > 0 {
				wins++
			}
		}
		p = 0.5*confidence + 0.5*float64(wins)/float64(n)
	}
	b := s.cfg.RewardRisk
	f := (b*p - (1 - p)) / b
	return math.Max(0, math.Min(s.cfg.KellyCap, f))
}

// correlatedExposure sums the entry notional of open positions that move
// with instrument, weighted by correlation.
func (s *Sizer) correlatedExposure(instrument string, state portfolio.State) float64 {
	total := 0.0
	for _, p := range state.Positions {
		total += s.corr.weight(instrument, p.Instrument) * p.Reserved()
	}
	return total
}
