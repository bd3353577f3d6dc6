// Package postgres stores FusionRun state in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/fusionrun/internal/orders"
	"github.com/sawpanic/fusionrun/internal/persistence"
	"github.com/sawpanic/fusionrun/internal/portfolio"
)

// Store implements persistence.StateStore for PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore creates a store on an open connection. Every query runs under
// timeout.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

type balanceRow struct {
	StartingBalance float64   `db:"starting_balance"`
	Total           float64   `db:"total"`
	Available       float64   `db:"available"`
	Reserved        float64   `db:"reserved"`
	DailyPnL        float64   `db:"daily_pnl"`
	Day             time.Time `db:"day"`
	UpdatedAt       time.Time `db:"updated_at"`
	SavedAt         time.Time `db:"saved_at"`
}

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// SaveState writes snap in one transaction. Closed trades are append-only;
// positions and pending orders are replaced.
func (s *Store) SaveState(ctx context.Context, snap persistence.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	st := snap.Portfolio
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fusion_balances (id, starting_balance, total, available, reserved, daily_pnl, day, updated_at, saved_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			starting_balance = EXCLUDED.starting_balance,
			total = EXCLUDED.total,
			available = EXCLUDED.available,
			reserved = EXCLUDED.reserved,
			daily_pnl = EXCLUDED.daily_pnl,
			day = EXCLUDED.day,
			updated_at = EXCLUDED.updated_at,
			saved_at = EXCLUDED.saved_at`,
		st.StartingBalance, st.Total, st.Available, st.Reserved, st.DailyPnL, st.Day, st.UpdatedAt, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to save balances: %w", err)
	}

	instruments := make([]string, 0, len(st.Positions))
	for inst := range st.Positions {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)

	for _, inst := range instruments {
		pos := st.Positions[inst]
		data, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("failed to marshal position %s: %w", inst, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fusion_positions (instrument, position_id, status, data, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (instrument) DO UPDATE SET
				position_id = EXCLUDED.position_id,
				status = EXCLUDED.status,
				data = EXCLUDED.data,
				updated_at = EXCLUDED.updated_at`,
			inst, pos.ID, string(pos.Status), data, pos.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save position %s: %w", inst, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fusion_positions WHERE NOT (instrument = ANY($1))`, pq.Array(instruments)); err != nil {
		return fmt.Errorf("failed to prune closed positions: %w", err)
	}

	for _, t := range st.Trades {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trade %s: %w", t.PositionID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fusion_trades (position_id, instrument, exit_reason, realized_pnl, exit_time, data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (position_id) DO NOTHING`,
			t.PositionID, t.Instrument, t.ExitReason.String(), t.RealizedPnL, t.ExitTime, data)
		if err != nil {
			return fmt.Errorf("failed to save trade %s: %w", t.PositionID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fusion_pending_orders`); err != nil {
		return fmt.Errorf("failed to clear pending orders: %w", err)
	}
	for _, intent := range snap.Pending {
		data, err := json.Marshal(intent)
		if err != nil {
			return fmt.Errorf("failed to marshal order %s: %w", intent.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fusion_pending_orders (order_id, instrument, data, created_at)
			VALUES ($1, $2, $3, $4)`,
			intent.ID, intent.Instrument, data, intent.CreatedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate pending order %s: %w", intent.ID, err)
			}
			return fmt.Errorf("failed to save pending order %s: %w", intent.ID, err)
		}
	}

	return tx.Commit()
}

// LoadState reads the latest snapshot.
func (s *Store) LoadState(ctx context.Context) (persistence.Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var b balanceRow
	err := s.db.GetContext(ctx, &b, `
		SELECT starting_balance, total, available, reserved, daily_pnl, day, updated_at, saved_at
		FROM fusion_balances
		WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Snapshot{}, false, nil
	}
	if err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("failed to load balances: %w", err)
	}

	snap := persistence.Snapshot{
		Portfolio: portfolio.State{
			StartingBalance: b.StartingBalance,
			Total:           b.Total,
			Available:       b.Available,
			Reserved:        b.Reserved,
			DailyPnL:        b.DailyPnL,
			Day:             b.Day.UTC(),
			Positions:       make(map[string]portfolio.Position),
			UpdatedAt:       b.UpdatedAt.UTC(),
		},
		SavedAt: b.SavedAt.UTC(),
	}

	positions, err := selectJSON[portfolio.Position](ctx, s.db,
		`SELECT data FROM fusion_positions ORDER BY instrument`)
	if err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("failed to load positions: %w", err)
	}
	for _, p := range positions {
		snap.Portfolio.Positions[p.Instrument] = p
	}

	snap.Portfolio.Trades, err = selectJSON[portfolio.Trade](ctx, s.db,
		`SELECT data FROM fusion_trades ORDER BY exit_time, position_id`)
	if err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("failed to load trades: %w", err)
	}

	snap.Pending, err = selectJSON[orders.Intent](ctx, s.db,
		`SELECT data FROM fusion_pending_orders ORDER BY created_at, order_id`)
	if err != nil {
		return persistence.Snapshot{}, false, fmt.Errorf("failed to load pending orders: %w", err)
	}

	return snap, true, nil
}

// RecentTrades returns the latest closed trades of instrument, newest
// first. An empty instrument matches all.
func (s *Store) RecentTrades(ctx context.Context, instrument string, limit int) ([]portfolio.Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	trades, err := selectJSON[portfolio.Trade](ctx, s.db, `
		SELECT data
		FROM fusion_trades
		WHERE $1 = '' OR instrument = $1
		ORDER BY exit_time DESC
		LIMIT $2`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	return trades, nil
}

func selectJSON[T any](ctx context.Context, db *sqlx.DB, query string, args ...any) ([]T, error) {
	var rows [][]byte
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, data := range rows {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
