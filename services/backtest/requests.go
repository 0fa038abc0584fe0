package backtest

import (
	"time"

	"backtest-service/services/engine"
)

const (
	DefaultInitialCapital       = 10000.0
	DefaultPositionSizeFraction = 0.1
	DefaultCommissionRate       = 0.001
	QuickWindow                 = 30 * 24 * time.Hour

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// RunRequest describes one backtest. Nil sizing fields take the defaults above;
// an explicit zero is kept and rejected by validate.
type RunRequest struct {
	StrategyID           string    `json:"strategyId"`
	Symbol               string    `json:"symbol"`
	Timeframe            string    `json:"timeframe,omitempty"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	InitialCapital       *float64  `json:"initialCapital,omitempty"`
	PositionSizeFraction *float64  `json:"positionSizeFraction,omitempty"`
	CommissionRate       *float64  `json:"commissionRate,omitempty"`
}

func (r RunRequest) withDefaults() RunRequest {
	if r.Timeframe == "" {
		r.Timeframe = string(engine.DefaultTimeframe)
	}
	r.InitialCapital = orDefault(r.InitialCapital, DefaultInitialCapital)
	r.PositionSizeFraction = orDefault(r.PositionSizeFraction, DefaultPositionSizeFraction)
	r.CommissionRate = orDefault(r.CommissionRate, DefaultCommissionRate)
	return r
}

func orDefault(v *float64, def float64) *float64 {
	if v == nil {
		return &def
	}
	return v
}

// simConfig must only be called after withDefaults.
func (r RunRequest) simConfig() engine.SimConfig {
	return engine.SimConfig{
		Symbol:               r.Symbol,
		Start:                r.StartDate,
		InitialCapital:       *r.InitialCapital,
		PositionSizeFraction: *r.PositionSizeFraction,
		CommissionRate:       *r.CommissionRate,
	}
}

func (r RunRequest) validate() error {
	switch {
	case r.StrategyID == "":
		return engine.ErrInvalidParams.WithDetails("strategyId is required")
	case r.Symbol == "":
		return engine.ErrInvalidParams.WithDetails("symbol is required")
	}
	if err := validatePeriod(r.StartDate, r.EndDate); err != nil {
		return err
	}
	return r.simConfig().Validate()
}

func validatePeriod(start, end time.Time) error {
	switch {
	case start.IsZero():
		return engine.ErrInvalidParams.WithDetails("startDate is required")
	case end.IsZero():
		return engine.ErrInvalidParams.WithDetails("endDate is required")
	case end.Before(start):
		return engine.ErrInvalidParams.WithDetails("endDate is before startDate")
	}
	return nil
}

type QuickRequest struct {
	StrategyID string `json:"strategyId"`
	Symbol     string `json:"symbol"`
}

type CompareRequest struct {
	StrategyIDs []string  `json:"strategyIds"`
	Symbol      string    `json:"symbol"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	Timeframe   string    `json:"timeframe,omitempty"`
}

// ComparisonEntry is one strategy's outcome. Exactly one of Metrics and Error is set.
type ComparisonEntry struct {
	StrategyID   string          `json:"strategyId"`
	StrategyName string          `json:"strategyName,omitempty"`
	ResultID     string          `json:"resultId,omitempty"`
	Metrics      *engine.Metrics `json:"metrics,omitempty"`
	FinalEquity  float64         `json:"finalEquity,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Comparison keeps entries in request order; Ranking holds the successful ones
// by Sharpe ratio, best first.
type Comparison struct {
	Comparisons  []ComparisonEntry `json:"comparisons"`
	Ranking      []ComparisonEntry `json:"ranking"`
	BestStrategy *ComparisonEntry  `json:"bestStrategy"`
	Period       engine.Period     `json:"period"`
	Symbol       string            `json:"symbol"`
	Timeframe    string            `json:"timeframe"`
}

type OptimizeRequest struct {
	StrategyID      string                `json:"strategyId"`
	Symbol          string                `json:"symbol"`
	StartDate       time.Time             `json:"startDate"`
	EndDate         time.Time             `json:"endDate"`
	ParameterRanges map[string][2]float64 `json:"parameterRanges,omitempty"`
}

type OptimizeSuggestion struct {
	Message             string             `json:"message"`
	SuggestedParameters map[string]float64 `json:"suggestedParameters"`
}
