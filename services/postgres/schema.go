package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS trading_strategies (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL DEFAULT 'ma_crossover',
		params      JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS trading_strategies_user_idx ON trading_strategies (user_id)`,
	`CREATE TABLE IF NOT EXISTS backtest_results (
		id              UUID PRIMARY KEY,
		user_id         TEXT NOT NULL,
		strategy_id     TEXT NOT NULL,
		strategy_name   TEXT NOT NULL DEFAULT '',
		symbol          TEXT NOT NULL,
		timeframe       TEXT NOT NULL,
		start_date      TIMESTAMPTZ NOT NULL,
		end_date        TIMESTAMPTZ NOT NULL,
		initial_capital DOUBLE PRECISION NOT NULL,
		final_equity    DOUBLE PRECISION NOT NULL,
		total_return    DOUBLE PRECISION NOT NULL,
		win_rate        DOUBLE PRECISION NOT NULL,
		max_drawdown    DOUBLE PRECISION NOT NULL,
		sharpe_ratio    DOUBLE PRECISION NOT NULL,
		profit_factor   TEXT NOT NULL DEFAULT '',
		total_trades    INTEGER NOT NULL,
		position_size   DOUBLE PRECISION NOT NULL,
		commission_rate DOUBLE PRECISION NOT NULL,
		results_data    JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS backtest_results_user_created_idx ON backtest_results (user_id, created_at DESC)`,
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
