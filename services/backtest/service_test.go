package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

var (
	now   = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type seriesCall struct {
	symbol, timeframe string
	start, end        time.Time
}

type fakeSeries struct {
	mu     sync.Mutex
	series []engine.Candle
	err    error
	calls  []seriesCall
}

func (f *fakeSeries) Series(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]engine.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, seriesCall{symbol, timeframe, start, end})
	return f.series, f.err
}

type fakeStrategies map[string]*engine.StrategyDescriptor

func (f fakeStrategies) LoadStrategy(ctx context.Context, userID, strategyID string) (*engine.StrategyDescriptor, error) {
	s, ok := f[strategyID]
	if !ok || s.UserID != userID {
		return nil, engine.ErrNotFound.WithDetails("strategy %s", strategyID)
	}
	return s, nil
}

type fakeResults struct {
	mu      sync.Mutex
	saved   []*engine.BacktestResult
	saveErr error
	limit   int
}

func (f *fakeResults) SaveResult(ctx context.Context, userID string, r *engine.BacktestResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, r)
	return fmt.Sprintf("res-%d", len(f.saved)), nil
}

func (f *fakeResults) LoadResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error) {
	f.limit = limit
	return nil, nil
}

func (f *fakeResults) LoadResult(ctx context.Context, userID, id string) (*engine.BacktestResult, error) {
	for _, r := range f.saved {
		if r.ID == id && r.UserID == userID {
			return r, nil
		}
	}
	return nil, engine.ErrNotFound
}

// wave is an hourly series oscillating enough to produce MA crossovers.
func wave(n int) []engine.Candle {
	out := make([]engine.Candle, n)
	for i := range out {
		p := 100 + 10*math.Sin(float64(i)/6) + float64(i)*0.05
		out[i] = engine.Candle{Timestamp: start.Add(time.Duration(i) * time.Hour), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return out
}

func strategies() fakeStrategies {
	return fakeStrategies{
		"fast":  {ID: "fast", UserID: "u1", Name: "Fast", Kind: engine.KindMACrossover, Params: engine.StrategyParams{ShortPeriod: 3, LongPeriod: 8}},
		"slow":  {ID: "slow", UserID: "u1", Name: "Slow", Kind: engine.KindMACrossover},
		"grid":  {ID: "grid", UserID: "u1", Name: "Grid", Kind: engine.KindGrid},
		"other": {ID: "other", UserID: "u2", Name: "Other"},
	}
}

func f64(v float64) *float64 { return &v }

func newTestService(series *fakeSeries, results *fakeResults) *Service {
	return NewService(series, strategies(), results, zap.NewNop(), WithClock(func() time.Time { return now }), WithMaxWorkers(2))
}

func TestRunBacktestDefaults(t *testing.T) {
	series := &fakeSeries{series: wave(200)}
	results := &fakeResults{}
	svc := newTestService(series, results)

	res, err := svc.RunBacktest(context.Background(), "u1", RunRequest{
		StrategyID: "slow",
		Symbol:     "BTCUSDT",
		StartDate:  start,
		EndDate:    start.Add(199 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, "Slow", res.StrategyName)
	assert.Equal(t, engine.TF1h, res.Timeframe)
	assert.Equal(t, DefaultInitialCapital, res.Capital.Initial)
	assert.Equal(t, DefaultPositionSizeFraction, res.Parameters.PositionSizeFraction)
	assert.Equal(t, DefaultCommissionRate, res.Parameters.CommissionRate)
	assert.Equal(t, now, res.CreatedAt)
	assert.Len(t, res.Equity, 201)
	assert.Equal(t, start, res.Equity[0].Timestamp)
	require.Len(t, series.calls, 1)
	assert.Equal(t, "1h", series.calls[0].timeframe)
	require.Len(t, results.saved, 1)

	sum := 0.0
	for _, tr := range res.Trades {
		sum += tr.PnL
	}
	assert.InDelta(t, res.Capital.Initial+sum, res.Capital.Final, 1e-6)
	assert.InDelta(t, res.Capital.Final-res.Capital.Initial, res.Metrics.TotalReturn, 1e-9)
}

func TestRunBacktestExplicitZeroCommission(t *testing.T) {
	svc := newTestService(&fakeSeries{series: wave(60)}, &fakeResults{})
	zero := 0.0
	res, err := svc.RunBacktest(context.Background(), "u1", RunRequest{
		StrategyID: "fast", Symbol: "ETHUSDT", StartDate: start, EndDate: start.Add(59 * time.Hour),
		CommissionRate: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Parameters.CommissionRate)
}

func TestRunBacktestValidation(t *testing.T) {
	svc := newTestService(&fakeSeries{series: wave(10)}, &fakeResults{})
	ctx := context.Background()
	valid := RunRequest{StrategyID: "slow", Symbol: "BTCUSDT", StartDate: start, EndDate: start.Add(time.Hour)}

	tests := []struct {
		name   string
		mutate func(*RunRequest)
	}{
		{"missing strategy", func(r *RunRequest) { r.StrategyID = "" }},
		{"missing symbol", func(r *RunRequest) { r.Symbol = "" }},
		{"missing start", func(r *RunRequest) { r.StartDate = time.Time{} }},
		{"missing end", func(r *RunRequest) { r.EndDate = time.Time{} }},
		{"inverted range", func(r *RunRequest) { r.EndDate = start.Add(-time.Hour) }},
		{"negative capital", func(r *RunRequest) { r.InitialCapital = f64(-1) }},
		{"zero capital", func(r *RunRequest) { r.InitialCapital = f64(0) }},
		{"zero fraction", func(r *RunRequest) { r.PositionSizeFraction = f64(0) }},
		{"fraction above one", func(r *RunRequest) { r.PositionSizeFraction = f64(2) }},
		{"commission of one", func(r *RunRequest) { r.CommissionRate = f64(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := svc.RunBacktest(ctx, "u1", req)
			assert.ErrorIs(t, err, engine.ErrInvalidParams)
		})
	}

	_, err := svc.RunBacktest(ctx, "", valid)
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
}

type countingStrategies struct {
	fakeStrategies
	calls int
}

func (c *countingStrategies) LoadStrategy(ctx context.Context, userID, strategyID string) (*engine.StrategyDescriptor, error) {
	c.calls++
	return c.fakeStrategies.LoadStrategy(ctx, userID, strategyID)
}

func TestRunBacktestRejectsSizingBeforeIO(t *testing.T) {
	repo := &countingStrategies{fakeStrategies: strategies()}
	series := &fakeSeries{series: wave(10)}
	results := &fakeResults{}
	svc := NewService(series, repo, results, zap.NewNop())

	for _, req := range []RunRequest{
		{InitialCapital: f64(-1)},
		{InitialCapital: f64(0)},
		{PositionSizeFraction: f64(0)},
		{CommissionRate: f64(-0.1)},
	} {
		req.StrategyID, req.Symbol = "slow", "BTCUSDT"
		req.StartDate, req.EndDate = start, start.Add(time.Hour)
		_, err := svc.RunBacktest(context.Background(), "u1", req)
		assert.ErrorIs(t, err, engine.ErrInvalidParams)
	}
	assert.Zero(t, repo.calls)
	assert.Empty(t, series.calls)
	assert.Empty(t, results.saved)
}

func TestRunBacktestStrategyErrors(t *testing.T) {
	series := &fakeSeries{series: wave(10)}
	results := &fakeResults{}
	svc := newTestService(series, results)
	ctx := context.Background()
	req := RunRequest{Symbol: "BTCUSDT", StartDate: start, EndDate: start.Add(time.Hour)}

	req.StrategyID = "missing"
	_, err := svc.RunBacktest(ctx, "u1", req)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	req.StrategyID = "other"
	_, err = svc.RunBacktest(ctx, "u1", req)
	assert.ErrorIs(t, err, engine.ErrNotFound, "another user's strategy is invisible")

	req.StrategyID = "grid"
	_, err = svc.RunBacktest(ctx, "u1", req)
	assert.ErrorIs(t, err, engine.ErrInvalidStrategy)

	assert.Empty(t, series.calls, "no data is fetched for unusable strategies")
	assert.Empty(t, results.saved)
}

func TestRunBacktestPropagatesDataAndSaveErrors(t *testing.T) {
	ctx := context.Background()
	req := RunRequest{StrategyID: "slow", Symbol: "BTCUSDT", StartDate: start, EndDate: start.Add(time.Hour)}

	svc := newTestService(&fakeSeries{err: engine.ErrDataNotFound}, &fakeResults{})
	_, err := svc.RunBacktest(ctx, "u1", req)
	assert.ErrorIs(t, err, engine.ErrDataNotFound)

	boom := errors.New("db down")
	svc = newTestService(&fakeSeries{series: wave(5)}, &fakeResults{saveErr: boom})
	_, err = svc.RunBacktest(ctx, "u1", req)
	assert.ErrorIs(t, err, boom)
}

func TestRunQuickBacktestWindow(t *testing.T) {
	series := &fakeSeries{series: wave(50)}
	svc := newTestService(series, &fakeResults{})

	res, err := svc.RunQuickBacktest(context.Background(), "u1", QuickRequest{StrategyID: "fast", Symbol: "SOLUSDT"})
	require.NoError(t, err)
	require.Len(t, series.calls, 1)
	call := series.calls[0]
	assert.Equal(t, now, call.end)
	assert.Equal(t, now.Add(-30*24*time.Hour), call.start)
	assert.Equal(t, "1h", call.timeframe)
	assert.Equal(t, 10000.0, res.Capital.Initial)
}

func TestCompareStrategies(t *testing.T) {
	svc := newTestService(&fakeSeries{series: wave(300)}, &fakeResults{})

	cmp, err := svc.CompareStrategies(context.Background(), "u1", CompareRequest{
		StrategyIDs: []string{"slow", "missing", "fast", "grid"},
		Symbol:      "BTCUSDT",
		StartDate:   start,
		EndDate:     start.Add(299 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, cmp.Comparisons, 4)
	for i, id := range []string{"slow", "missing", "fast", "grid"} {
		assert.Equal(t, id, cmp.Comparisons[i].StrategyID, "entries keep request order")
	}
	assert.NotEmpty(t, cmp.Comparisons[1].Error)
	assert.Nil(t, cmp.Comparisons[1].Metrics)
	assert.NotEmpty(t, cmp.Comparisons[3].Error)

	require.Len(t, cmp.Ranking, 2)
	assert.GreaterOrEqual(t, cmp.Ranking[0].Metrics.SharpeRatio, cmp.Ranking[1].Metrics.SharpeRatio)
	require.NotNil(t, cmp.BestStrategy)
	assert.Equal(t, cmp.Ranking[0].StrategyID, cmp.BestStrategy.StrategyID)
	assert.Equal(t, "1h", cmp.Timeframe)
}

func TestCompareStrategiesAllFail(t *testing.T) {
	svc := newTestService(&fakeSeries{series: wave(10)}, &fakeResults{})
	cmp, err := svc.CompareStrategies(context.Background(), "u1", CompareRequest{
		StrategyIDs: []string{"missing", "grid"},
		Symbol:      "BTCUSDT",
		StartDate:   start,
		EndDate:     start.Add(9 * time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, cmp.Ranking)
	assert.Nil(t, cmp.BestStrategy)
}

func TestCompareStrategiesValidation(t *testing.T) {
	svc := newTestService(&fakeSeries{}, &fakeResults{})
	ctx := context.Background()

	_, err := svc.CompareStrategies(ctx, "u1", CompareRequest{StrategyIDs: []string{"slow"}, Symbol: "BTC", StartDate: start, EndDate: start})
	assert.ErrorIs(t, err, engine.ErrInvalidParams)

	_, err = svc.CompareStrategies(ctx, "u1", CompareRequest{StrategyIDs: []string{"slow", "fast"}, StartDate: start, EndDate: start})
	assert.ErrorIs(t, err, engine.ErrInvalidParams)

	_, err = svc.CompareStrategies(ctx, "u1", CompareRequest{StrategyIDs: []string{"slow", "fast"}, Symbol: "BTC"})
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
}

func TestRankBySharpe(t *testing.T) {
	a := &engine.Metrics{SharpeRatio: 1.5}
	b := &engine.Metrics{SharpeRatio: 0.3}
	c := &engine.Metrics{SharpeRatio: 0.3}
	entries := []ComparisonEntry{
		{StrategyID: "B", Metrics: b},
		{StrategyID: "X", Error: "boom"},
		{StrategyID: "A", Metrics: a},
		{StrategyID: "C", Metrics: c},
	}

	ranked := rankBySharpe(entries)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{ranked[0].StrategyID, ranked[1].StrategyID, ranked[2].StrategyID})
	assert.Equal(t, "B", entries[0].StrategyID, "input is not reordered")
}

func TestGetResultHistoryLimits(t *testing.T) {
	results := &fakeResults{}
	svc := newTestService(&fakeSeries{}, results)
	ctx := context.Background()

	for _, tt := range []struct{ in, want int }{{0, 50}, {-3, 50}, {20, 20}, {500, 500}, {10_000, 500}} {
		_, err := svc.GetResultHistory(ctx, "u1", tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, results.limit, "limit %d", tt.in)
	}
}

func TestGetResultByID(t *testing.T) {
	results := &fakeResults{}
	svc := newTestService(&fakeSeries{series: wave(30)}, results)
	ctx := context.Background()

	res, err := svc.RunBacktest(ctx, "u1", RunRequest{StrategyID: "fast", Symbol: "BTCUSDT", StartDate: start, EndDate: start.Add(29 * time.Hour)})
	require.NoError(t, err)

	got, err := svc.GetResultByID(ctx, "u1", res.ID)
	require.NoError(t, err)
	assert.Same(t, res, got)

	_, err = svc.GetResultByID(ctx, "u2", res.ID)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = svc.GetResultByID(ctx, "u1", "")
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
}

func TestOptimizeStrategyPlaceholder(t *testing.T) {
	svc := newTestService(&fakeSeries{}, &fakeResults{})

	sugg, err := svc.OptimizeStrategy(context.Background(), "u1", OptimizeRequest{
		StrategyID: "fast", Symbol: "BTCUSDT", StartDate: start, EndDate: now,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"shortMA": 10, "longMA": 20, "stopLoss": 0.02, "takeProfit": 0.05}, sugg.SuggestedParameters)

	_, err = svc.OptimizeStrategy(context.Background(), "u1", OptimizeRequest{Symbol: "BTCUSDT", StartDate: start, EndDate: now})
	assert.ErrorIs(t, err, engine.ErrInvalidParams)
}
