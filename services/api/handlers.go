// Package api serves the backtest operations over JSON/HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"backtest-service/services/arrowpipeline"
	"backtest-service/services/backtest"
	"backtest-service/services/engine"
	"backtest-service/services/monitoring"
)

// BacktestService is the operation surface the handlers call.
type BacktestService interface {
	RunBacktest(ctx context.Context, userID string, req backtest.RunRequest) (*engine.BacktestResult, error)
	RunQuickBacktest(ctx context.Context, userID string, req backtest.QuickRequest) (*engine.BacktestResult, error)
	CompareStrategies(ctx context.Context, userID string, req backtest.CompareRequest) (*backtest.Comparison, error)
	OptimizeStrategy(ctx context.Context, userID string, req backtest.OptimizeRequest) (*backtest.OptimizeSuggestion, error)
	GetResultHistory(ctx context.Context, userID string, limit int) ([]engine.ResultSummary, error)
	GetResultByID(ctx context.Context, userID, id string) (*engine.BacktestResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type Handler struct {
	svc     BacktestService
	arrow   *arrowpipeline.Pipeline
	metrics *monitoring.Metrics
	checks  map[string]HealthCheck
	limiter *userLimiter
	logger  *zap.Logger
	version string
}

type Option func(*Handler)

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

func WithMetrics(m *monitoring.Metrics) Option { return func(h *Handler) { h.metrics = m } }

func WithVersion(v string) Option { return func(h *Handler) { h.version = v } }

func NewHandler(svc BacktestService, arrow *arrowpipeline.Pipeline, cfg Config, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	h := &Handler{
		svc:     svc,
		arrow:   arrow,
		checks:  map[string]HealthCheck{},
		limiter: newUserLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:  logger,
		version: "dev",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route under /api/v1.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(requestLogger(h.logger))
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.handleHealth)
		if h.metrics != nil {
			api.GET("/metrics", gin.WrapH(h.metrics.Handler()))
		}

		bt := api.Group("/backtest", requireUser(), h.limiter.middleware())
		bt.POST("/run", h.handleRun)
		bt.POST("/quick", h.handleQuick)
		bt.POST("/compare", h.handleCompare)
		bt.POST("/optimize", h.handleOptimize)
		bt.GET("/history", h.handleHistory)
		bt.GET("/:id", h.handleGetResult)
		bt.GET("/:id/equity.arrow", h.handleEquityArrow)
	}
}

type runBody struct {
	StrategyID           string   `json:"strategyId"`
	Symbol               string   `json:"symbol"`
	Timeframe            string   `json:"timeframe"`
	StartDate            Date     `json:"startDate"`
	EndDate              Date     `json:"endDate"`
	InitialCapital       *float64 `json:"initialCapital"`
	PositionSizeFraction *float64 `json:"positionSizeFraction"`
	CommissionRate       *float64 `json:"commissionRate"`
}

type compareBody struct {
	StrategyIDs []string `json:"strategyIds"`
	Symbol      string   `json:"symbol"`
	StartDate   Date     `json:"startDate"`
	EndDate     Date     `json:"endDate"`
	Timeframe   string   `json:"timeframe"`
}

type optimizeBody struct {
	StrategyID      string                `json:"strategyId"`
	Symbol          string                `json:"symbol"`
	StartDate       Date                  `json:"startDate"`
	EndDate         Date                  `json:"endDate"`
	ParameterRanges map[string][2]float64 `json:"parameterRanges"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, engine.ErrInvalidParams.WithDetails("%v", err))
		return false
	}
	return true
}

func (h *Handler) handleRun(c *gin.Context) {
	var body runBody
	if !bindJSON(c, &body) {
		return
	}
	res, err := h.svc.RunBacktest(c.Request.Context(), userID(c), backtest.RunRequest{
		StrategyID:           body.StrategyID,
		Symbol:               body.Symbol,
		Timeframe:            body.Timeframe,
		StartDate:            body.StartDate.Time,
		EndDate:              body.EndDate.Time,
		InitialCapital:       body.InitialCapital,
		PositionSizeFraction: body.PositionSizeFraction,
		CommissionRate:       body.CommissionRate,
	})
	if err != nil {
		h.logger.Error("Backtest request failed", zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, res, "Backtest completed successfully")
}

func (h *Handler) handleQuick(c *gin.Context) {
	var body backtest.QuickRequest
	if !bindJSON(c, &body) {
		return
	}
	res, err := h.svc.RunQuickBacktest(c.Request.Context(), userID(c), body)
	if err != nil {
		h.logger.Error("Quick backtest failed", zap.Error(err))
		respondError(c, err)
		return
	}
	respondOK(c, res, "Quick backtest completed")
}

func (h *Handler) handleCompare(c *gin.Context) {
	var body compareBody
	if !bindJSON(c, &body) {
		return
	}
	cmp, err := h.svc.CompareStrategies(c.Request.Context(), userID(c), backtest.CompareRequest{
		StrategyIDs: body.StrategyIDs,
		Symbol:      body.Symbol,
		StartDate:   body.StartDate.Time,
		EndDate:     body.EndDate.Time,
		Timeframe:   body.Timeframe,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, cmp, "")
}

func (h *Handler) handleOptimize(c *gin.Context) {
	var body optimizeBody
	if !bindJSON(c, &body) {
		return
	}
	sugg, err := h.svc.OptimizeStrategy(c.Request.Context(), userID(c), backtest.OptimizeRequest{
		StrategyID:      body.StrategyID,
		Symbol:          body.Symbol,
		StartDate:       body.StartDate.Time,
		EndDate:         body.EndDate.Time,
		ParameterRanges: body.ParameterRanges,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, sugg, "")
}

func (h *Handler) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, engine.ErrInvalidParams.WithDetails("limit must be an integer"))
			return
		}
		limit = n
	}
	rows, err := h.svc.GetResultHistory(c.Request.Context(), userID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if rows == nil {
		rows = []engine.ResultSummary{}
	}
	respondOK(c, rows, "")
}

func (h *Handler) handleGetResult(c *gin.Context) {
	res, err := h.svc.GetResultByID(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, res, "")
}

func (h *Handler) handleEquityArrow(c *gin.Context) {
	res, err := h.svc.GetResultByID(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := h.arrow.EncodeEquity(res.Equity)
	if err != nil {
		h.logger.Error("Arrow encoding failed", zap.String("result_id", res.ID), zap.Error(err))
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, arrowpipeline.ContentType, data)
}

// CheckHealth runs every registered dependency check and returns the failures
// by name.
func (h *Handler) CheckHealth(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	failed := make(map[string]error)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

func (h *Handler) handleHealth(c *gin.Context) {
	failed := h.CheckHealth(c.Request.Context())

	deps := make(map[string]string, len(h.checks))
	for name := range h.checks {
		deps[name] = "ok"
		if err, ok := failed[name]; ok {
			deps[name] = err.Error()
		}
	}
	status, state := http.StatusOK, "healthy"
	if len(failed) > 0 {
		status, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"timestamp":    time.Now().Unix(),
		"version":      h.version,
		"dependencies": deps,
	})
}
