// Package orders defines the order intents passed from the sizer and exit
// engine to the execution coordinator, and the fills that come back.
package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/fusionrun/internal/domain"
	"github.com/sawpanic/fusionrun/internal/exits"
)

// Side is the exchange side of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Purpose separates position entries from reductions.
type Purpose string

const (
	Entry Purpose = "entry"
	Exit  Purpose = "exit"
)

// Status is the exchange-side state of an order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusFilled   Status = "filled"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
	StatusUnknown  Status = "unknown"
)

// Intent is a request to trade, produced without side effects and handed
// to the execution coordinator.
type Intent struct {
	ID         string           `json:"id"`
	Instrument string           `json:"instrument"`
	Purpose    Purpose          `json:"purpose"`
	Direction  domain.Direction `json:"direction"` // direction of the position
	Side       Side             `json:"side"`
	Quantity   float64          `json:"quantity"`
	Price      float64          `json:"price"` // reference price when the intent was built
	Notional   float64          `json:"notional"`
	CreatedAt  time.Time        `json:"created_at"`

	// Entry only.
	Plan exits.Plan `json:"plan,omitempty"`

	// Exit only.
	PositionID string       `json:"position_id,omitempty"`
	Reason     exits.Reason `json:"reason,omitempty"`
	Level      int          `json:"level"`
}

// NewEntry builds an entry intent for a position in direction dir.
func NewEntry(instrument string, dir domain.Direction, qty, price float64, plan exits.Plan, now time.Time) Intent {
	return Intent{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Purpose:    Entry,
		Direction:  dir,
		Side:       OpenSide(dir),
		Quantity:   qty,
		Price:      price,
		Notional:   qty * price,
		CreatedAt:  now,
		Plan:       plan,
		Level:      -1,
	}
}

// NewExit builds an intent that reduces position positionID by qty.
func NewExit(instrument, positionID string, dir domain.Direction, qty, price float64, reason exits.Reason, level int, now time.Time) Intent {
	return Intent{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Purpose:    Exit,
		Direction:  dir,
		Side:       CloseSide(dir),
		Quantity:   qty,
		Price:      price,
		Notional:   qty * price,
		CreatedAt:  now,
		PositionID: positionID,
		Reason:     reason,
		Level:      level,
	}
}

// Validate checks the intent before it is queued.
func (i Intent) Validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("intent has no id")
	case i.Instrument == "":
		return fmt.Errorf("intent %s has no instrument", i.ID)
	case i.Quantity <= 0:
		return fmt.Errorf("intent %s: quantity must be positive, got %.8f", i.ID, i.Quantity)
	case !i.Direction.Tradable():
		return fmt.Errorf("intent %s: direction %q is not tradable", i.ID, i.Direction)
	case i.Purpose == Exit && i.PositionID == "":
		return fmt.Errorf("exit intent %s has no position id", i.ID)
	case i.Purpose != Entry && i.Purpose != Exit:
		return fmt.Errorf("intent %s: unknown purpose %q", i.ID, i.Purpose)
	}
	return nil
}

// OpenSide returns the order side that opens a position in dir.
func OpenSide(dir domain.Direction) Side {
	if dir == domain.Short {
		return Sell
	}
	return Buy
}

// CloseSide returns the order side that reduces a position in dir.
func CloseSide(dir domain.Direction) Side {
	if dir == domain.Short {
		return Buy
	}
	return Sell
}

// Fill is an exchange execution report for an intent.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Fee        float64   `json:"fee"`
	Time       time.Time `json:"time"`
}

// Notional returns price times quantity.
func (f Fill) Notional() float64 {
	return f.Price * f.Quantity
}
