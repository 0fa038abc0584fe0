package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

// Store reads and writes candles in a single ReplacingMergeTree table keyed by
// (symbol, timeframe, ts).
type Store struct {
	conn    conn
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewStore(c conn, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Store{
		conn:    c,
		cfg:     cfg,
		breaker: newBreaker("clickhouse-candles"),
		logger:  logger,
	}
}

func (s *Store) table() string { return s.cfg.Database + "." + s.cfg.Table }

func (s *Store) schemaDDL() []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, s.cfg.Database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	symbol    LowCardinality(String),
	timeframe LowCardinality(String),
	ts        DateTime64(3, 'UTC'),
	open      Float64,
	high      Float64,
	low       Float64,
	close     Float64,
	volume    Float64,
	ingested_at DateTime DEFAULT now()
) ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, timeframe, ts)`, s.table()),
	}
}

// EnsureSchema creates the database and candle table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range s.schemaDDL() {
		if err := s.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// LoadCandles returns the candles in [start, end] ascending. Reads go through
// the circuit breaker; an open breaker fails fast with gobreaker.ErrOpenState.
func (s *Store) LoadCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.loadCandles(ctx, symbol, timeframe, start, end)
	})
	if err != nil {
		return nil, err
	}
	return out.([]engine.Candle), nil
}

func (s *Store) loadCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT ts, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ?
		AND timeframe = ?
		AND ts >= ?
		AND ts <= ?
		ORDER BY ts`, s.table())

	rows, err := s.conn.Query(ctx, query, symbol, timeframe, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var series []engine.Candle
	for rows.Next() {
		var c engine.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		series = append(series, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candle rows: %w", err)
	}

	s.logger.Debug("Loaded candles",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Int("rows", len(series)),
	)
	return series, nil
}

func (s *Store) Close() error { return s.conn.Close() }
