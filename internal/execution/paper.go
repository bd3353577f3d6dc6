package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/fusionrun/internal/orders"
)

// PaperConfig controls simulated fills.
type PaperConfig struct {
	SlippageBps float64 `yaml:"slippage_bps"`
	FeeBps      float64 `yaml:"fee_bps"`
}

// DefaultPaperConfig returns 5 bps of slippage and 10 bps of fees.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{SlippageBps: 5, FeeBps: 10}
}

// Paper is an in-memory exchange that fills every order immediately at the
// latest mark, moved against the trader by the configured slippage.
type Paper struct {
	cfg PaperConfig
	now func() time.Time

	mu       sync.Mutex
	marks    map[string]float64
	fills    map[string]orders.Fill
	canceled map[string]bool
}

// NewPaper creates a paper exchange.
func NewPaper(cfg PaperConfig) *Paper {
	return &Paper{
		cfg:      cfg,
		now:      time.Now,
		marks:    make(map[string]float64),
		fills:    make(map[string]orders.Fill),
		canceled: make(map[string]bool),
	}
}

// SetMark records the latest price of instrument. Orders fill at the
// intent's reference price until a mark is known.
func (p *Paper) SetMark(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[instrument] = price
}

// SubmitOrder fills intent. Submitting the same ID twice returns the
// original fill.
func (p *Paper) SubmitOrder(ctx context.Context, intent orders.Intent) (orders.Fill, error) {
	if err := ctx.Err(); err != nil {
		return orders.Fill{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fill, ok := p.fills[intent.ID]; ok {
		return fill, nil
	}
	if p.canceled[intent.ID] {
		return orders.Fill{}, &ExchangeError{Op: "submit", Code: "canceled", Err: fmt.Errorf("order %s", intent.ID)}
	}

	price := intent.Price
	if mark, ok := p.marks[intent.Instrument]; ok && mark > 0 {
		price = mark
	}
	if price <= 0 || intent.Quantity <= 0 {
		return orders.Fill{}, &ExchangeError{Op: "submit", Code: "invalid_order", Err: fmt.Errorf("price %.8f qty %.8f", price, intent.Quantity)}
	}

	slip := price * p.cfg.SlippageBps / 10000
	if intent.Side == orders.Buy {
		price += slip
	} else {
		price -= slip
	}

	at := intent.CreatedAt
	if at.IsZero() {
		at = p.now()
	}
	fill := orders.Fill{
		OrderID:    intent.ID,
		Instrument: intent.Instrument,
		Side:       intent.Side,
		Price:      price,
		Quantity:   intent.Quantity,
		Fee:        price * intent.Quantity * p.cfg.FeeBps / 10000,
		Time:       at,
	}
	p.fills[intent.ID] = fill
	return fill, nil
}

// CancelOrder cancels an order that has not filled. Paper orders fill
// immediately, so only unknown IDs can be cancelled.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.fills[orderID]; ok {
		return &ExchangeError{Op: "cancel", Code: "already_filled", Err: fmt.Errorf("order %s", orderID)}
	}
	p.canceled[orderID] = true
	return nil
}

// GetOrderStatus reports the state of orderID.
func (p *Paper) GetOrderStatus(ctx context.Context, orderID string) (orders.Status, *orders.Fill, error) {
	if err := ctx.Err(); err != nil {
		return orders.StatusUnknown, nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fill, ok := p.fills[orderID]; ok {
		return orders.StatusFilled, &fill, nil
	}
	if p.canceled[orderID] {
		return orders.StatusCanceled, nil, nil
	}
	return orders.StatusUnknown, nil, nil
}
