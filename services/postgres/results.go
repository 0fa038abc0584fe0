package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"backtest-service/services/engine"
)

// resultsData is the jsonb payload: everything the summary columns do not hold.
type resultsData struct {
	Metrics engine.Metrics       `json:"metrics"`
	Trades  []engine.Trade       `json:"trades"`
	Equity  []engine.EquityPoint `json:"equity"`
}

type summaryRow struct {
	ID             string    `db:"id"`
	StrategyID     string    `db:"strategy_id"`
	StrategyName   string    `db:"strategy_name"`
	Symbol         string    `db:"symbol"`
	Timeframe      string    `db:"timeframe"`
	StartDate      time.Time `db:"start_date"`
	EndDate        time.Time `db:"end_date"`
	InitialCapital float64   `db:"initial_capital"`
	FinalEquity    float64   `db:"final_equity"`
	TotalReturn    float64   `db:"total_return"`
	WinRate        float64   `db:"win_rate"`
	MaxDrawdown    float64   `db:"max_drawdown"`
	SharpeRatio    float64   `db:"sharpe_ratio"`
	TotalTrades    int       `db:"total_trades"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r summaryRow) summary() engine.ResultSummary {
	return engine.ResultSummary{
		ID:           r.ID,
		StrategyID:   r.StrategyID,
		StrategyName: r.StrategyName,
		Symbol:       r.Symbol,
		Timeframe:    engine.Timeframe(r.Timeframe),
		Period:       engine.Period{Start: r.StartDate, End: r.EndDate},
		Capital:      engine.Capital{Initial: r.InitialCapital, Final: r.FinalEquity},
		TotalReturn:  r.TotalReturn,
		WinRate:      r.WinRate,
		MaxDrawdown:  r.MaxDrawdown,
		SharpeRatio:  r.SharpeRatio,
		TotalTrades:  r.TotalTrades,
		CreatedAt:    r.CreatedAt,
	}
}

type resultRow struct {
	summaryRow
	UserID         string  `db:"user_id"`
	ProfitFactor   string  `db:"profit_factor"`
	PositionSize   float64 `db:"position_size"`
	CommissionRate float64 `db:"commission_rate"`
	ResultsData    []byte  `db:"results_data"`
}

// ResultRepo stores finished backtests in backtest_results.
type ResultRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewResultRepo(db *sqlx.DB, timeout time.Duration) *ResultRepo {
	return &ResultRepo{db: db, timeout: timeoutOr(timeout)}
}

// SaveResult inserts res and returns its id. A result without an id gets a
// fresh UUID.
func (r *ResultRepo) SaveResult(ctx context.Context, userID string, res *engine.BacktestResult) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	data, err := json.Marshal(resultsData{Metrics: res.Metrics, Trades: res.Trades, Equity: res.Equity})
	if err != nil {
		return "", fmt.Errorf("failed to marshal results data: %w", err)
	}

	query := `
		INSERT INTO backtest_results (
			id, user_id, strategy_id, strategy_name, symbol, timeframe, start_date, end_date,
			initial_capital, final_equity, total_return, win_rate, max_drawdown, sharpe_ratio,
			profit_factor, total_trades, position_size, commission_rate, results_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	m := res.Metrics
	_, err = r.db.ExecContext(ctx, query,
		res.ID, userID, res.StrategyID, res.StrategyName, res.Symbol, string(res.Timeframe),
		res.Period.Start, res.Period.End,
		res.Capital.Initial, res.Capital.Final, m.TotalReturn, m.WinRate, m.MaxDrawdown, m.SharpeRatio,
		m.ProfitFactor.String(), m.TotalTrades,
		res.Parameters.PositionSizeFraction, res.Parameters.CommissionRate,
		string(data), res.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", fmt.Errorf("duplicate backtest result %s: %w", res.ID, err)
		}
		return "", fmt.Errorf("failed to insert backtest result: %w", err)
	}
	return res.ID, nil
}

// LoadResultHistory lists a user's results, newest first.
func (r *ResultRepo) LoadResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, strategy_id, strategy_name, symbol, timeframe, start_date, end_date,
			initial_capital, final_equity, total_return, win_rate, max_drawdown, sharpe_ratio,
			total_trades, created_at
		FROM backtest_results
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to query result history: %w", err)
	}
	out := make([]engine.ResultSummary, len(rows))
	for i, row := range rows {
		out[i] = row.summary()
	}
	return out, nil
}

// LoadResult returns engine.ErrNotFound for unknown ids and for results owned
// by another user.
func (r *ResultRepo) LoadResult(ctx context.Context, userID, id string) (*engine.BacktestResult, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, engine.ErrNotFound.WithDetails("backtest result %s", id)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, strategy_id, strategy_name, symbol, timeframe, start_date, end_date,
			initial_capital, final_equity, total_return, win_rate, max_drawdown, sharpe_ratio,
			profit_factor, total_trades, position_size, commission_rate, results_data, created_at
		FROM backtest_results
		WHERE id = $1 AND user_id = $2`

	var row resultRow
	if err := r.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.ErrNotFound.WithDetails("backtest result %s", id)
		}
		return nil, fmt.Errorf("failed to load backtest result: %w", err)
	}

	var data resultsData
	if err := json.Unmarshal(row.ResultsData, &data); err != nil {
		return nil, fmt.Errorf("decode results data of %s: %w", id, err)
	}
	pf, err := engine.ParseProfitFactor(row.ProfitFactor)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", id, err)
	}
	data.Metrics.ProfitFactor = pf

	sum := row.summary()
	return &engine.BacktestResult{
		ID:           row.ID,
		UserID:       row.UserID,
		StrategyID:   row.StrategyID,
		StrategyName: row.StrategyName,
		Symbol:       row.Symbol,
		Timeframe:    sum.Timeframe,
		Period:       sum.Period,
		Capital:      sum.Capital,
		Parameters: engine.RunParameters{
			PositionSizeFraction: row.PositionSize,
			CommissionRate:       row.CommissionRate,
		},
		Metrics:   data.Metrics,
		Trades:    data.Trades,
		Equity:    data.Equity,
		CreatedAt: row.CreatedAt,
	}, nil
}
