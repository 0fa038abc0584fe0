package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"backtest-service/services/arrowpipeline"
	"backtest-service/services/backtest"
	"backtest-service/services/engine"
	"backtest-service/services/monitoring"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeService struct {
	lastRun     backtest.RunRequest
	lastUser    string
	lastLimit   int
	runErr      error
	result      *engine.BacktestResult
	compare     *backtest.Comparison
	compareErr  error
	optimizeErr error
}

func (f *fakeService) RunBacktest(ctx context.Context, userID string, req backtest.RunRequest) (*engine.BacktestResult, error) {
	f.lastUser, f.lastRun = userID, req
	return f.result, f.runErr
}

func (f *fakeService) RunQuickBacktest(ctx context.Context, userID string, req backtest.QuickRequest) (*engine.BacktestResult, error) {
	f.lastUser = userID
	return f.result, f.runErr
}

func (f *fakeService) CompareStrategies(ctx context.Context, userID string, req backtest.CompareRequest) (*backtest.Comparison, error) {
	return f.compare, f.compareErr
}

func (f *fakeService) OptimizeStrategy(ctx context.Context, userID string, req backtest.OptimizeRequest) (*backtest.OptimizeSuggestion, error) {
	if f.optimizeErr != nil {
		return nil, f.optimizeErr
	}
	return &backtest.OptimizeSuggestion{Message: "under development", SuggestedParameters: map[string]float64{"shortMA": 10}}, nil
}

func (f *fakeService) GetResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error) {
	f.lastLimit = limit
	return nil, nil
}

func (f *fakeService) GetResultByID(ctx context.Context, userID, id string) (*engine.BacktestResult, error) {
	if f.result == nil || f.result.ID != id || f.result.UserID != userID {
		return nil, engine.ErrNotFound.WithDetails("backtest result %s", id)
	}
	return f.result, nil
}

func sampleResult() *engine.BacktestResult {
	return &engine.BacktestResult{
		ID:     "r1",
		UserID: "u1",
		Symbol: "BTCUSDT",
		Metrics: engine.Metrics{
			TotalTrades:  1,
			ProfitFactor: engine.InfiniteProfitFactor(),
		},
		Equity: []engine.EquityPoint{{Timestamp: t0, Value: 10000}, {Timestamp: t0.Add(time.Hour), Value: 10050}},
	}
}

func newRouter(svc BacktestService, opts ...Option) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc, arrowpipeline.NewPipeline(arrowpipeline.Config{}, zap.NewNop()), Config{RateLimitRPS: 100, RateLimitBurst: 100}, zap.NewNop(), opts...).Register(r)
	return r
}

func do(r http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRunRequiresUser(t *testing.T) {
	r := newRouter(&fakeService{})
	w := do(r, http.MethodPost, "/api/v1/backtest/run", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestRunParsesDates(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	r := newRouter(svc)

	w := do(r, http.MethodPost, "/api/v1/backtest/run", "u1",
		`{"strategyId":"s1","symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-02-01T12:00:00Z","commissionRate":0}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "u1", svc.lastUser)
	assert.Equal(t, t0, svc.lastRun.StartDate)
	assert.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), svc.lastRun.EndDate)
	require.NotNil(t, svc.lastRun.CommissionRate)
	assert.Equal(t, 0.0, *svc.lastRun.CommissionRate)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["timestamp"])
	data := body["data"].(map[string]any)
	metrics := data["metrics"].(map[string]any)
	assert.Equal(t, "Infinity", metrics["profitFactor"])
}

func TestRunRejectsExplicitZeroSizing(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	w := do(newRouter(svc), http.MethodPost, "/api/v1/backtest/run", "u1",
		`{"strategyId":"s1","symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-02-01","positionSizeFraction":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastRun.PositionSizeFraction)
	assert.Equal(t, 0.0, *svc.lastRun.PositionSizeFraction)
	assert.Nil(t, svc.lastRun.InitialCapital)

	// Validation runs before the service touches any collaborator.
	validating := backtest.NewService(nil, nil, nil, zap.NewNop())
	for _, body := range []string{
		`{"strategyId":"s1","symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-02-01","positionSizeFraction":0}`,
		`{"strategyId":"s1","symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-02-01","initialCapital":0}`,
	} {
		w = do(newRouter(validating), http.MethodPost, "/api/v1/backtest/run", "u1", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "INVALID_PARAMS", decode(t, w)["code"])
	}
}

func TestRunRejectsBadDate(t *testing.T) {
	r := newRouter(&fakeService{})
	w := do(r, http.MethodPost, "/api/v1/backtest/run", "u1", `{"strategyId":"s1","symbol":"BTC","startDate":"01/02/2024"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", decode(t, w)["code"])
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrInvalidParams.WithDetails("symbol is required"), http.StatusBadRequest},
		{engine.ErrInvalidStrategy, http.StatusBadRequest},
		{engine.ErrNotFound, http.StatusNotFound},
		{engine.ErrDataNotFound, http.StatusServiceUnavailable},
		{engine.ErrExecutionFailed, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r := newRouter(&fakeService{runErr: tt.err})
		w := do(r, http.MethodPost, "/api/v1/backtest/run", "u1", `{"strategyId":"s1"}`)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestQuick(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	w := do(newRouter(svc), http.MethodPost, "/api/v1/backtest/quick", "u9", `{"strategyId":"s1","symbol":"ETHUSDT"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u9", svc.lastUser)
}

func TestCompare(t *testing.T) {
	svc := &fakeService{compare: &backtest.Comparison{Symbol: "BTCUSDT"}}
	w := do(newRouter(svc), http.MethodPost, "/api/v1/backtest/compare", "u1",
		`{"strategyIds":["a","b"],"symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-01-31"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Nil(t, data["bestStrategy"])

	svc.compareErr = engine.ErrInvalidParams
	w = do(newRouter(svc), http.MethodPost, "/api/v1/backtest/compare", "u1", `{"strategyIds":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimize(t *testing.T) {
	w := do(newRouter(&fakeService{}), http.MethodPost, "/api/v1/backtest/optimize", "u1",
		`{"strategyId":"s1","symbol":"BTCUSDT","startDate":"2024-01-01","endDate":"2024-01-31"}`)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Contains(t, data, "suggestedParameters")
}

func TestHistoryLimit(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, http.MethodGet, "/api/v1/backtest/history?limit=25", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, svc.lastLimit)
	assert.Equal(t, []any{}, decode(t, w)["data"])

	w = do(r, http.MethodGet, "/api/v1/backtest/history", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, svc.lastLimit)

	w = do(r, http.MethodGet, "/api/v1/backtest/history?limit=ten", "u1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetResult(t *testing.T) {
	r := newRouter(&fakeService{result: sampleResult()})

	w := do(r, http.MethodGet, "/api/v1/backtest/r1", "u1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/v1/backtest/r1", "u2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEquityArrow(t *testing.T) {
	res := sampleResult()
	r := newRouter(&fakeService{result: res})

	w := do(r, http.MethodGet, "/api/v1/backtest/r1/equity.arrow", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, arrowpipeline.ContentType, w.Header().Get("Content-Type"))

	got, err := arrowpipeline.NewPipeline(arrowpipeline.Config{}, zap.NewNop()).ReadEquity(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, res.Equity, got)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(&fakeService{}, nil, Config{RateLimitRPS: 0.001, RateLimitBurst: 2}, zap.NewNop()).Register(r)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/backtest/history", "u1", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/api/v1/backtest/history", "u1", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/v1/backtest/history", "u2", "").Code, "buckets are per user")
}

func TestHealth(t *testing.T) {
	r := newRouter(&fakeService{},
		WithHealthCheck("postgres", func(ctx context.Context) error { return nil }),
		WithMetrics(monitoring.NewMetrics(monitoring.Config{})),
	)
	w := do(r, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = do(r, http.MethodGet, "/api/v1/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	r = newRouter(&fakeService{}, WithHealthCheck("redis", func(ctx context.Context) error { return errors.New("down") }))
	w = do(r, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h := NewHandler(&fakeService{}, nil, Config{}, zap.NewNop(),
		WithHealthCheck("redis", func(ctx context.Context) error { return errors.New("down") }),
		WithHealthCheck("postgres", func(ctx context.Context) error { return nil }),
	)
	failed := h.CheckHealth(context.Background())
	assert.Len(t, failed, 1)
	assert.EqualError(t, failed["redis"], "down")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2024-03-05T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}
