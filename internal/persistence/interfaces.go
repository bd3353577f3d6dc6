// Package persistence saves and restores the trading state across
// restarts.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

// Snapshot is everything needed to resume after a restart: the ledger and
// the orders that were not yet confirmed by the exchange.
type Snapshot struct {
	Portfolio portfolio.State `json:"portfolio"`
	Pending   []orders.Intent `json:"pending"`
	SavedAt   time.Time       `json:"saved_at"`
}

// StateStore persists snapshots. LoadState reports false when nothing has
// been saved yet.
type StateStore interface {
	SaveState(ctx context.Context, snap Snapshot) error
	LoadState(ctx context.Context) (Snapshot, bool, error)
}

// HealthCheck represents store health status
type HealthCheck struct {
	Healthy        bool      `json:"healthy"`
	Errors         []string  `json:"errors,omitempty"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Nop is a StateStore that keeps nothing.
type Nop struct{}

func (Nop) SaveState(context.Context, Snapshot) error { return nil }

func (Nop) LoadState(context.Context) (Snapshot, bool, error) { return Snapshot{}, false, nil }
