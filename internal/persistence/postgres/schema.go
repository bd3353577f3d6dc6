package postgres

// Schema creates the tables used by Store. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS fusion_balances (
	id               SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	starting_balance DOUBLE PRECISION NOT NULL,
	total            DOUBLE PRECISION NOT NULL,
	available        DOUBLE PRECISION NOT NULL,
	reserved         DOUBLE PRECISION NOT NULL,
	daily_pnl        DOUBLE PRECISION NOT NULL,
	day              TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	saved_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fusion_positions (
	instrument  TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	data        JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fusion_trades (
	position_id  TEXT PRIMARY KEY,
	instrument   TEXT NOT NULL,
	exit_reason  TEXT NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	exit_time    TIMESTAMPTZ NOT NULL,
	data         JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS fusion_trades_instrument_exit_time
	ON fusion_trades (instrument, exit_time DESC);

CREATE TABLE IF NOT EXISTS fusion_pending_orders (
	order_id   TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
