// Package backtest orchestrates backtest runs: it loads the strategy and the
// candle series, replays them through the engine and persists the result.
package backtest

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtest-service/services/engine"
	"backtest-service/services/monitoring"
)

type SeriesProvider interface {
	Series(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error)
}

type StrategyRepository interface {
	LoadStrategy(ctx context.Context, userID, strategyID string) (*engine.StrategyDescriptor, error)
}

type ResultStore interface {
	SaveResult(ctx context.Context, userID string, result *engine.BacktestResult) (string, error)
	LoadResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error)
	LoadResult(ctx context.Context, userID, id string) (*engine.BacktestResult, error)
}

type Option func(*Service)

// WithMaxWorkers bounds how many strategies a comparison runs at once.
func WithMaxWorkers(n int) Option { return func(s *Service) { s.maxWorkers = n } }

func WithMetrics(m *monitoring.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service is safe for concurrent use; every run owns its simulator state.
type Service struct {
	series     SeriesProvider
	strategies StrategyRepository
	results    ResultStore
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	maxWorkers int
	now        func() time.Time
}

func NewService(series SeriesProvider, strategies StrategyRepository, results ResultStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		series:     series,
		strategies: strategies,
		results:    results,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxWorkers <= 0 {
		s.maxWorkers = runtime.NumCPU()
	}
	return s
}

// RunBacktest replays one strategy over the requested window and saves the result.
func (s *Service) RunBacktest(ctx context.Context, userID string, req RunRequest) (result *engine.BacktestResult, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveRun("run", started, err) }()

	if userID == "" {
		return nil, engine.ErrInvalidParams.WithDetails("user id is required")
	}
	req = req.withDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}
	cfg := req.simConfig()

	strategy, err := s.strategies.LoadStrategy(ctx, userID, req.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy %s: %w", req.StrategyID, err)
	}
	signal, err := engine.ResolveSignalFunc(*strategy)
	if err != nil {
		return nil, err
	}
	sim, err := engine.NewSimulatorWithSignal(cfg, signal)
	if err != nil {
		return nil, err
	}

	series, err := s.series.Series(ctx, req.Symbol, req.Timeframe, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("load series %s %s: %w", req.Symbol, req.Timeframe, err)
	}

	state := sim.Run(series)
	metrics := engine.ComputeMetrics(state, cfg.InitialCapital)
	s.metrics.Simulated(len(series), len(state.Trades))

	result = &engine.BacktestResult{
		UserID:       userID,
		StrategyID:   strategy.ID,
		StrategyName: strategy.Name,
		Symbol:       req.Symbol,
		Timeframe:    engine.Timeframe(req.Timeframe),
		Period:       engine.Period{Start: req.StartDate, End: req.EndDate},
		Capital: engine.Capital{
			Initial: cfg.InitialCapital,
			Final:   state.Capital.InexactFloat64(),
		},
		Parameters: engine.RunParameters{
			PositionSizeFraction: cfg.PositionSizeFraction,
			CommissionRate:       cfg.CommissionRate,
		},
		Metrics:   metrics,
		Trades:    state.Trades,
		Equity:    state.Equity,
		CreatedAt: s.now().UTC(),
	}

	id, err := s.results.SaveResult(ctx, userID, result)
	if err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	result.ID = id

	s.logger.Info("Backtest completed",
		zap.String("result_id", id),
		zap.String("strategy_id", strategy.ID),
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", req.Timeframe),
		zap.Int("candles", len(series)),
		zap.Int("trades", metrics.TotalTrades),
		zap.Float64("sharpe", metrics.SharpeRatio),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// RunQuickBacktest runs the 30 days before now on the hourly timeframe with
// default sizing.
func (s *Service) RunQuickBacktest(ctx context.Context, userID string, req QuickRequest) (*engine.BacktestResult, error) {
	end := s.now().UTC()
	return s.RunBacktest(ctx, userID, RunRequest{
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		Timeframe:  string(engine.TF1h),
		StartDate:  end.Add(-QuickWindow),
		EndDate:    end,
	})
}

// CompareStrategies runs every strategy over the same window. A failed run is
// reported on its entry and left out of the ranking.
func (s *Service) CompareStrategies(ctx context.Context, userID string, req CompareRequest) (*Comparison, error) {
	if len(req.StrategyIDs) < 2 {
		return nil, engine.ErrInvalidParams.WithDetails("at least 2 strategy ids are required")
	}
	if req.Symbol == "" {
		return nil, engine.ErrInvalidParams.WithDetails("symbol is required")
	}
	if err := validatePeriod(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	if req.Timeframe == "" {
		req.Timeframe = string(engine.DefaultTimeframe)
	}

	entries := make([]ComparisonEntry, len(req.StrategyIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for i, id := range req.StrategyIDs {
		i, id := i, id
		g.Go(func() error {
			entries[i] = s.compareOne(gctx, userID, id, req)
			return nil
		})
	}
	_ = g.Wait()

	ranking := rankBySharpe(entries)
	out := &Comparison{
		Comparisons: entries,
		Ranking:     ranking,
		Period:      engine.Period{Start: req.StartDate, End: req.EndDate},
		Symbol:      req.Symbol,
		Timeframe:   req.Timeframe,
	}
	if len(ranking) > 0 {
		best := ranking[0]
		out.BestStrategy = &best
	}
	return out, nil
}

func (s *Service) compareOne(ctx context.Context, userID, strategyID string, req CompareRequest) ComparisonEntry {
	res, err := s.RunBacktest(ctx, userID, RunRequest{
		StrategyID: strategyID,
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
	})
	if err != nil {
		s.logger.Warn("Comparison run failed",
			zap.String("strategy_id", strategyID),
			zap.Error(err),
		)
		return ComparisonEntry{StrategyID: strategyID, Error: err.Error()}
	}
	m := res.Metrics
	return ComparisonEntry{
		StrategyID:   strategyID,
		StrategyName: res.StrategyName,
		ResultID:     res.ID,
		Metrics:      &m,
		FinalEquity:  res.FinalEquity(),
	}
}

// rankBySharpe returns the successful entries ordered by Sharpe ratio, highest
// first. Ties keep request order.
func rankBySharpe(entries []ComparisonEntry) []ComparisonEntry {
	ranked := make([]ComparisonEntry, 0, len(entries))
	for _, e := range entries {
		if e.Error == "" && e.Metrics != nil {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Metrics.SharpeRatio > ranked[j].Metrics.SharpeRatio
	})
	return ranked
}

// GetResultHistory lists past runs, newest first. limit defaults to 50 and is
// capped at 500.
func (s *Service) GetResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.results.LoadResultHistory(ctx, userID, limit)
}

func (s *Service) GetResultByID(ctx context.Context, userID, id string) (*engine.BacktestResult, error) {
	if id == "" {
		return nil, engine.ErrInvalidParams.WithDetails("result id is required")
	}
	return s.results.LoadResult(ctx, userID, id)
}

// OptimizeStrategy validates the request and returns fixed suggested
// parameters. No search is performed.
func (s *Service) OptimizeStrategy(ctx context.Context, userID string, req OptimizeRequest) (*OptimizeSuggestion, error) {
	if req.StrategyID == "" || req.Symbol == "" {
		return nil, engine.ErrInvalidParams.WithDetails("strategyId and symbol are required")
	}
	if err := validatePeriod(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	return &OptimizeSuggestion{
		Message: "Strategy optimization is under development",
		SuggestedParameters: map[string]float64{
			"shortMA":    engine.DefaultShortPeriod,
			"longMA":     engine.DefaultLongPeriod,
			"stopLoss":   0.02,
			"takeProfit": 0.05,
		},
	}, nil
}
