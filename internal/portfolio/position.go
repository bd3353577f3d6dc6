// Package portfolio is the ledger of balances, open positions and closed
// trades.
package portfolio

import (
	"time"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/exits"
)

// Position is the single active position of an instrument.
type Position struct {
	ID            string           `json:"id"`
	Instrument    string           `json:"instrument"`
	Direction     domain.Direction `json:"direction"`
	Size          float64          `json:"size"` // remaining base quantity
	InitialSize   float64          `json:"initial_size"`
	EntryPrice    float64          `json:"entry_price"`
	EntryNotional float64          `json:"entry_notional"`
	EntryFee      float64          `json:"entry_fee"`
	Fees          float64          `json:"fees"` // entry and exit fees so far
	EntryTime     time.Time        `json:"entry_time"`
	Exit          exits.Plan       `json:"exit"`
	Status        exits.Status     `json:"status"`
	RealizedPnL   float64          `json:"realized_pnl"` // net of exit fees, booked on exit fills
	ExitedQty     float64          `json:"exited_qty"`
	ExitValue     float64          `json:"exit_value"`
	Partials      int              `json:"partials"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// RemainingFraction returns the open share of the initial size.
func (p Position) RemainingFraction() float64 {
	if p.InitialSize <= 0 {
		return 0
	}
	return p.Size / p.InitialSize
}

// Reserved returns the entry notional still tied up in the position.
func (p Position) Reserved() float64 {
	return p.Size * p.EntryPrice
}

// Unrealized returns the mark-to-market P&L of the remaining size.
func (p Position) Unrealized(mark float64) float64 {
	if mark <= 0 {
		return 0
	}
	return p.Direction.Sign() * (mark - p.EntryPrice) * p.Size
}

func (p Position) clone() Position {
	p.Exit = p.Exit.Clone()
	return p
}

// Trade is the record of a fully closed position.
type Trade struct {
	PositionID  string           `json:"position_id"`
	Instrument  string           `json:"instrument"`
	Direction   domain.Direction `json:"direction"`
	EntryPrice  float64          `json:"entry_price"`
	ExitPrice   float64          `json:"exit_price"` // size weighted across partial exits
	Size        float64          `json:"size"`
	RealizedPnL float64          `json:"realized_pnl"`
	ReturnPct   float64          `json:"return_pct"`
	Fees        float64          `json:"fees"`
	EntryTime   time.Time        `json:"entry_time"`
	ExitTime    time.Time        `json:"exit_time"`
	Duration    time.Duration    `json:"duration"`
	ExitReason  exits.Reason     `json:"exit_reason"`
	Partials    int              `json:"partials"`
}

// State is a consistent copy of the ledger.
type State struct {
	StartingBalance float64             `json:"starting_balance"`
	Total           float64             `json:"total"`
	Available       float64             `json:"available"`
	Reserved        float64             `json:"reserved"`
	DailyPnL        float64             `json:"daily_pnl"`
	Day             time.Time           `json:"day"`
	Positions       map[string]Position `json:"positions"` // keyed by instrument
	Trades          []Trade             `json:"trades"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Position returns the open position for instrument.
func (s State) Position(instrument string) (Position, bool) {
	p, ok := s.Positions[instrument]
	return p, ok
}

// DailyPnLAt returns realized P&L for the UTC day of now, zero when the
// recorded day has rolled over.
func (s State) DailyPnLAt(now time.Time) float64 {
	if !s.Day.Equal(dayOf(now)) {
		return 0
	}
	return s.DailyPnL
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
