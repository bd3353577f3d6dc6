package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fusionrun/internal/exits"
	"github.com/sawpanic/fusionrun/internal/orders"
)

const epsilon = 1e-9

var (
	// ErrInsufficientBalance is returned when a fill would make the available
	// balance negative. The ledger is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrPositionExists      = errors.New("position already open for instrument")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInvalidFill         = errors.New("invalid fill")
)

// Config holds the ledger bootstrap values.
type Config struct {
	StartingBalance float64 `yaml:"starting_balance"`
}

// DefaultConfig returns the default paper bankroll.
func DefaultConfig() Config {
	return Config{StartingBalance: 10000}
}

// Ledger owns balances, positions and trades. Every method is atomic: it
// either applies fully or leaves the ledger untouched.
type Ledger struct {
	mu    sync.Mutex
	state State
}

// NewLedger creates a ledger funded with the starting balance.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{
		state: State{
			StartingBalance: cfg.StartingBalance,
			Total:           cfg.StartingBalance,
			Available:       cfg.StartingBalance,
			Positions:       make(map[string]Position),
		},
	}
}

// ApplyFill books an exchange fill against the intent that produced it.
// Entry fills open a position; exit fills reduce or close one.
func (l *Ledger) ApplyFill(intent orders.Intent, fill orders.Fill) (Position, error) {
	if fill.Quantity <= 0 || fill.Price <= 0 || fill.Fee < 0 {
		return Position{}, fmt.Errorf("%w: qty %.8f price %.8f fee %.8f", ErrInvalidFill, fill.Quantity, fill.Price, fill.Fee)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch intent.Purpose {
	case orders.Entry:
		return l.openLocked(intent, fill)
	case orders.Exit:
		pos, _, err := l.reduceLocked(intent.PositionID, fill, intent.Reason, intent.Level)
		return pos, err
	default:
		return Position{}, fmt.Errorf("%w: unknown purpose %q", ErrInvalidFill, intent.Purpose)
	}
}

func (l *Ledger) openLocked(intent orders.Intent, fill orders.Fill) (Position, error) {
	if _, exists := l.state.Positions[intent.Instrument]; exists {
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, intent.Instrument)
	}

	notional := fill.Notional()
	if notional+fill.Fee > l.state.Available+epsilon {
		log.Error().
			Str("instrument", intent.Instrument).
			Float64("notional", notional).
			Float64("fee", fill.Fee).
			Float64("available", l.state.Available).
			Msg("Entry fill exceeds available balance")
		return Position{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, notional+fill.Fee, l.state.Available)
	}

	plan := intent.Plan.Clone()
	plan.EntryTime = fill.Time
	pos := Position{
		ID:            uuid.NewString(),
		Instrument:    intent.Instrument,
		Direction:     intent.Direction,
		Size:          fill.Quantity,
		InitialSize:   fill.Quantity,
		EntryPrice:    fill.Price,
		EntryNotional: notional,
		EntryFee:      fill.Fee,
		Fees:          fill.Fee,
		EntryTime:     fill.Time,
		Exit:          plan,
		Status:        exits.StatusOpening,
		UpdatedAt:     fill.Time,
	}
	if err := exits.Transition(pos.Status, exits.StatusOpen); err != nil {
		return Position{}, err
	}
	pos.Status = exits.StatusOpen

	l.state.Available -= notional + fill.Fee
	l.state.Total -= fill.Fee
	l.state.Reserved += notional
	l.state.Positions[pos.Instrument] = pos
	l.state.UpdatedAt = fill.Time

	log.Info().
		Str("instrument", pos.Instrument).
		Str("position_id", pos.ID).
		Str("direction", string(pos.Direction)).
		Float64("size", pos.Size).
		Float64("entry_price", pos.EntryPrice).
		Float64("stop", pos.Exit.Stop.Price).
		Msg("Position opened")
	return pos.clone(), nil
}

// reduceLocked books an exit fill. It returns the trade when the fill
// closes the position.
func (l *Ledger) reduceLocked(positionID string, fill orders.Fill, reason exits.Reason, level int) (Position, *Trade, error) {
	pos, ok := l.findLocked(positionID)
	if !ok {
		return Position{}, nil, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if fill.Quantity > pos.Size*(1+epsilon)+epsilon {
		return Position{}, nil, fmt.Errorf("%w: exit qty %.8f exceeds open size %.8f", ErrInvalidFill, fill.Quantity, pos.Size)
	}
	if level >= 0 && level < len(pos.Exit.Ladder) && pos.Exit.Ladder[level].Consumed {
		log.Warn().
			Str("instrument", pos.Instrument).
			Str("position_id", pos.ID).
			Int("level", level).
			Msg("Exit fill for a spent ladder level refused")
		return Position{}, nil, fmt.Errorf("%w: %w", ErrInvalidFill, exits.ErrLevelConsumed)
	}
	qty := math.Min(fill.Quantity, pos.Size)

	released := qty * pos.EntryPrice
	gross := pos.Direction.Sign() * (fill.Price - pos.EntryPrice) * qty
	net := gross - fill.Fee
	available := l.state.Available + released + net
	if available < -epsilon {
		log.Error().
			Str("instrument", pos.Instrument).
			Str("position_id", pos.ID).
			Float64("pnl", net).
			Float64("available", l.state.Available).
			Msg("Exit fill would make available balance negative")
		return Position{}, nil, fmt.Errorf("%w: exit of %s leaves %.2f", ErrInsufficientBalance, pos.Instrument, available)
	}

	if level >= 0 {
		pos.Exit = pos.Exit.Clone()
		if err := pos.Exit.Consume(level); err != nil {
			return Position{}, nil, fmt.Errorf("%w: %w", ErrInvalidFill, err)
		}
	}

	pos.Size -= qty
	pos.RealizedPnL += net
	pos.ExitedQty += qty
	pos.ExitValue += fill.Price * qty
	pos.Fees += fill.Fee
	pos.UpdatedAt = fill.Time

	l.state.Available = available
	l.state.Reserved -= released
	if l.state.Reserved < epsilon {
		l.state.Reserved = 0
	}
	l.state.Total += net
	l.addDailyLocked(fill.Time, net)
	l.state.UpdatedAt = fill.Time

	if pos.Size <= pos.InitialSize*epsilon {
		pos.Size = 0
		pos.Status = exits.StatusClosed
		trade := l.closeLocked(pos, fill.Time, reason)
		return pos.clone(), &trade, nil
	}

	pos.Partials++
	pos.Status = exits.StatusOpen
	l.state.Positions[pos.Instrument] = pos
	log.Info().
		Str("instrument", pos.Instrument).
		Str("position_id", pos.ID).
		Str("reason", reason.String()).
		Float64("closed_qty", qty).
		Float64("remaining", pos.Size).
		Float64("pnl", net).
		Msg("Position reduced")
	return pos.clone(), nil, nil
}

func (l *Ledger) closeLocked(pos Position, at time.Time, reason exits.Reason) Trade {
	exitPrice := pos.EntryPrice
	if pos.ExitedQty > 0 {
		exitPrice = pos.ExitValue / pos.ExitedQty
	}
	pnl := pos.RealizedPnL - pos.EntryFee
	trade := Trade{
		PositionID:  pos.ID,
		Instrument:  pos.Instrument,
		Direction:   pos.Direction,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.InitialSize,
		RealizedPnL: pnl,
		EntryTime:   pos.EntryTime,
		ExitTime:    at,
		Duration:    at.Sub(pos.EntryTime),
		Fees:        pos.Fees,
		ExitReason:  reason,
		Partials:    pos.Partials,
	}
	if pos.EntryNotional > 0 {
		trade.ReturnPct = pnl / pos.EntryNotional * 100
	}

	delete(l.state.Positions, pos.Instrument)
	l.state.Trades = append(l.state.Trades, trade)

	log.Info().
		Str("instrument", trade.Instrument).
		Str("position_id", trade.PositionID).
		Str("reason", reason.String()).
		Float64("exit_price", trade.ExitPrice).
		Float64("pnl", trade.RealizedPnL).
		Float64("return_pct", trade.ReturnPct).
		Dur("held", trade.Duration).
		Msg("Position closed")
	return trade
}

func (l *Ledger) findLocked(positionID string) (Position, bool) {
	for _, p := range l.state.Positions {
		if p.ID == positionID {
			return p, true
		}
	}
	return Position{}, false
}

func (l *Ledger) addDailyLocked(at time.Time, pnl float64) {
	day := dayOf(at)
	if !l.state.Day.Equal(day) {
		l.state.Day = day
		l.state.DailyPnL = 0
	}
	l.state.DailyPnL += pnl
}

// ClosePosition closes the remainder of a position with fill and returns
// the resulting trade.
func (l *Ledger) ClosePosition(positionID string, fill orders.Fill, reason exits.Reason) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.findLocked(positionID)
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if math.Abs(fill.Quantity-pos.Size) > pos.Size*1e-6 {
		return Trade{}, fmt.Errorf("%w: close qty %.8f does not match open size %.8f", ErrInvalidFill, fill.Quantity, pos.Size)
	}
	fill.Quantity = pos.Size
	_, trade, err := l.reduceLocked(positionID, fill, reason, -1)
	if err != nil {
		return Trade{}, err
	}
	return *trade, nil
}

// ReducePosition closes part of a position.
func (l *Ledger) ReducePosition(positionID string, fill orders.Fill, reason exits.Reason) (Position, error) {
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return Position{}, fmt.Errorf("%w: qty %.8f price %.8f", ErrInvalidFill, fill.Quantity, fill.Price)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, _, err := l.reduceLocked(positionID, fill, reason, -1)
	return pos, err
}

// BeginClose marks a position as closing while an exit order is in flight.
func (l *Ledger) BeginClose(positionID string) error {
	return l.transition(positionID, exits.StatusClosing)
}

// AbortClose returns a closing position to open after a rejected exit.
func (l *Ledger) AbortClose(positionID string) error {
	return l.transition(positionID, exits.StatusOpen)
}

func (l *Ledger) transition(positionID string, to exits.Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.findLocked(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if err := exits.Transition(pos.Status, to); err != nil {
		return err
	}
	pos.Status = to
	l.state.Positions[pos.Instrument] = pos
	return nil
}

// UpdatePlan stores the stop and trailing state of plan, such as a
// ratcheted trailing stop. The ladder only changes when exit fills are
// booked.
func (l *Ledger) UpdatePlan(positionID string, plan exits.Plan) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.findLocked(positionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	pos.Exit = pos.Exit.Clone()
	pos.Exit.Stop = plan.Stop
	pos.Exit.Trailing = plan.Trailing
	l.state.Positions[pos.Instrument] = pos
	return nil
}

// Position returns the open position for instrument.
func (l *Ledger) Position(instrument string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.state.Positions[instrument]
	return p.clone(), ok
}

// OpenPositions returns the open positions ordered by instrument.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.state.Positions))
	for _, p := range l.state.Positions {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// DailyPnL returns realized P&L booked on the UTC day of now.
func (l *Ledger) DailyPnL(now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.DailyPnLAt(now)
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() State {
	s := l.state
	s.Positions = make(map[string]Position, len(l.state.Positions))
	for k, p := range l.state.Positions {
		s.Positions[k] = p.clone()
	}
	s.Trades = append([]Trade(nil), l.state.Trades...)
	return s
}

// Metrics computes performance figures, marking open positions with marks.
func (l *Ledger) Metrics(marks map[string]float64) Metrics {
	return ComputeMetrics(l.Snapshot(), marks)
}

// Restore replaces the ledger state with a persisted one. Positions caught
// mid-close are reopened so the exit policy evaluates them again.
func (l *Ledger) Restore(s State) error {
	if s.Positions == nil {
		s.Positions = make(map[string]Position)
	}
	restored := State{
		StartingBalance: s.StartingBalance,
		Total:           s.Total,
		Available:       s.Available,
		Reserved:        s.Reserved,
		DailyPnL:        s.DailyPnL,
		Day:             s.Day,
		Positions:       make(map[string]Position, len(s.Positions)),
		Trades:          append([]Trade(nil), s.Trades...),
		UpdatedAt:       s.UpdatedAt,
	}
	for k, p := range s.Positions {
		if p.Status == exits.StatusClosing || p.Status == exits.StatusOpening {
			p.Status = exits.StatusOpen
		}
		restored.Positions[k] = p.clone()
	}
	if err := restored.Check(); err != nil {
		return fmt.Errorf("refusing to restore ledger: %w", err)
	}

	l.mu.Lock()
	l.state = restored
	l.mu.Unlock()
	return nil
}

// CheckInvariants verifies the balance and position invariants.
func (l *Ledger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Check()
}

// Check verifies that balances are consistent with the open positions.
func (s State) Check() error {
	var errs []error
	tol := 1e-6 * math.Max(1, math.Abs(s.Total))
	if s.Available < -tol {
		errs = append(errs, fmt.Errorf("available balance %.8f is negative", s.Available))
	}
	if s.Available+s.Reserved > s.Total+tol {
		errs = append(errs, fmt.Errorf("available %.8f + reserved %.8f exceeds total %.8f", s.Available, s.Reserved, s.Total))
	}
	reserved := 0.0
	for k, p := range s.Positions {
		if k != p.Instrument {
			errs = append(errs, fmt.Errorf("position %s stored under %s", p.ID, k))
		}
		if p.Size <= 0 || p.Size > p.InitialSize*(1+epsilon) {
			errs = append(errs, fmt.Errorf("position %s has size %.8f of %.8f", p.ID, p.Size, p.InitialSize))
		}
		if p.Status == exits.StatusClosed {
			errs = append(errs, fmt.Errorf("position %s is closed but still open in ledger", p.ID))
		}
		reserved += p.Reserved()
	}
	if math.Abs(reserved-s.Reserved) > tol {
		errs = append(errs, fmt.Errorf("reserved %.8f does not match open positions %.8f", s.Reserved, reserved))
	}
	return errors.Join(errs...)
}
