// Package execution submits order intents to an exchange and books the
// resulting fills into the portfolio ledger.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/sawpanic/fusionrun/internal/orders"
)

var (
	// ErrExchangeTimeout is returned when an exchange call exceeds its
	// deadline. The order may or may not have reached the exchange.
	ErrExchangeTimeout = errors.New("exchange call timed out")

	// ErrOrderInFlight is returned when an instrument already has an
	// unconfirmed order.
	ErrOrderInFlight = errors.New("order already in flight for instrument")

	// ErrQueueFull is returned when the intent queue has no room.
	ErrQueueFull = errors.New("order queue full")

	// ErrOrderNotFound is returned by exchanges for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")
)

// Exchange is the order API the coordinator drives. Implementations must
// treat the intent ID as an idempotent client order ID.
type Exchange interface {
	SubmitOrder(ctx context.Context, intent orders.Intent) (orders.Fill, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, *orders.Fill, error)
}

// ExchangeError is an error reported by the exchange.
type ExchangeError struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("exchange %s failed (%s)", e.Op, e.Code)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExchangeTimeout) {
		return true
	}
	var xe *ExchangeError
	if errors.As(err, &xe) {
		return xe.Retryable
	}
	// Breaker refusals and transport errors.
	return !errors.Is(err, context.Canceled)
}

// definitive reports whether err means the exchange refused the order.
func definitive(err error) bool {
	var xe *ExchangeError
	return errors.As(err, &xe) && !xe.Retryable
}
