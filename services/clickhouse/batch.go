package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

// InsertCandles validates and appends candles in native batches of
// cfg.BatchSize rows. Re-inserting a candle replaces it on merge.
func (s *Store) InsertCandles(ctx context.Context, symbol, timeframe string, candles []engine.Candle) (int, error) {
	if symbol == "" {
		return 0, engine.ErrInvalidParams.WithDetails("symbol is required")
	}
	if _, ok := engine.ParseTimeframe(timeframe); !ok {
		return 0, engine.ErrInvalidParams.WithDetails("unsupported timeframe %q", timeframe)
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return 0, engine.ErrInvalidParams.WithDetails("row %d: %v", i, err)
		}
	}

	inserted := 0
	for start := 0; start < len(candles); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(candles))
		if err := s.sendBatch(ctx, symbol, timeframe, candles[start:end]); err != nil {
			return inserted, err
		}
		inserted += end - start
		s.logger.Debug("Flushed candle batch",
			zap.String("symbol", symbol),
			zap.String("timeframe", timeframe),
			zap.Int("rows", end-start),
		)
	}
	return inserted, nil
}

func (s *Store) sendBatch(ctx context.Context, symbol, timeframe string, candles []engine.Candle) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s (symbol, timeframe, ts, open, high, low, close, volume) SETTINGS insert_deduplicate=1`, s.table()))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	if err := appendAll(batch, symbol, timeframe, candles); err != nil {
		_ = batch.Abort()
		return err
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	return nil
}

func appendAll(batch driver.Batch, symbol, timeframe string, candles []engine.Candle) error {
	for _, c := range candles {
		if err := batch.Append(symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("batch append: %w", err)
		}
	}
	return nil
}
