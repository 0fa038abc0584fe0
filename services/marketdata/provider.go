// Package marketdata supplies the candle series a backtest replays: persisted
// candles when the store has them, a synthetic random walk otherwise.
package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"backtest-service/services/engine"
	"backtest-service/services/monitoring"
)

// Store loads persisted candles for a symbol/timeframe over an inclusive range,
// ascending by timestamp.
type Store interface {
	LoadCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error)
}

// Cache holds previously loaded persisted series.
type Cache interface {
	Get(ctx context.Context, key string) ([]engine.Candle, bool, error)
	Set(ctx context.Context, key string, series []engine.Candle) error
}

type Option func(*Provider)

func WithCache(c Cache) Option { return func(p *Provider) { p.cache = c } }

// WithRand makes synthesis reproducible.
func WithRand(rng *rand.Rand) Option { return func(p *Provider) { p.rng = rng } }

func WithMetrics(m *monitoring.Metrics) Option { return func(p *Provider) { p.metrics = m } }

// Provider is the historical series provider used by the backtest service.
type Provider struct {
	store   Store
	cache   Cache
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

func NewProvider(store Store, logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p
}

// CacheKey is the cache key for one exact request.
func CacheKey(symbol, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("candles:%s:%s:%d:%d", symbol, timeframe, start.UnixMilli(), end.UnixMilli())
}

// Series returns candles for the inclusive range. An empty store result is not
// an error: the provider falls back to a synthetic walk. Store failures come
// back wrapped in engine.ErrDataNotFound.
func (p *Provider) Series(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error) {
	if end.Before(start) {
		return nil, engine.ErrInvalidParams.WithDetails("end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	key := CacheKey(symbol, timeframe, start, end)

	if p.cache != nil {
		series, ok, err := p.cache.Get(ctx, key)
		switch {
		case err != nil:
			p.logger.Warn("Series cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			p.metrics.CacheHit()
			return series, nil
		default:
			p.metrics.CacheMiss()
		}
	}

	var series []engine.Candle
	if p.store != nil {
		started := time.Now()
		loaded, err := p.store.LoadCandles(ctx, symbol, timeframe, start, end)
		p.metrics.ObserveStoreQuery(started, err)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrDataNotFound.WithDetails("load %s %s", symbol, timeframe), err)
		}
		series = loaded
	}

	if len(series) == 0 {
		p.logger.Info("No stored candles, synthesizing series",
			zap.String("symbol", symbol),
			zap.String("timeframe", timeframe),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		p.metrics.Synthetic(symbol, timeframe)
		return p.synthesize(timeframe, start, end), nil
	}

	if gaps := engine.DetectGaps(series, engine.Timeframe(timeframe).Duration()); len(gaps) > 0 {
		p.logger.Warn("Stored series has gaps",
			zap.String("symbol", symbol),
			zap.String("timeframe", timeframe),
			zap.Int("gaps", len(gaps)),
			zap.Time("first_gap_after", gaps[0]),
		)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, series); err != nil {
			p.logger.Warn("Series cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return series, nil
}

func (p *Provider) synthesize(timeframe string, start, end time.Time) []engine.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Synthesize(p.rng, timeframe, start, end)
}
