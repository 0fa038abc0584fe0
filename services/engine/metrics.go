package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// TradingPeriodsPerYear annualises the Sharpe ratio; every equity sample counts as one period.
const TradingPeriodsPerYear = 252

type ProfitFactorKind uint8

const (
	ProfitFactorFinite ProfitFactorKind = iota
	ProfitFactorInfinite
	ProfitFactorUndefined
)

// ProfitFactor is gross profit over gross loss. It is infinite when there are
// winners and no losers; Undefined only appears for stored results that never
// recorded a value.
type ProfitFactor struct {
	Kind  ProfitFactorKind
	Value float64
}

func FiniteProfitFactor(v float64) ProfitFactor { return ProfitFactor{Kind: ProfitFactorFinite, Value: v} }

func InfiniteProfitFactor() ProfitFactor { return ProfitFactor{Kind: ProfitFactorInfinite} }

// Float returns +Inf for the infinite case and NaN when undefined.
func (p ProfitFactor) Float() float64 {
	switch p.Kind {
	case ProfitFactorInfinite:
		return math.Inf(1)
	case ProfitFactorUndefined:
		return math.NaN()
	default:
		return p.Value
	}
}

func (p ProfitFactor) String() string {
	switch p.Kind {
	case ProfitFactorInfinite:
		return "Infinity"
	case ProfitFactorUndefined:
		return ""
	default:
		return strconv.FormatFloat(p.Value, 'f', -1, 64)
	}
}

// ParseProfitFactor reads the String form back.
func ParseProfitFactor(s string) (ProfitFactor, error) {
	switch s {
	case "":
		return ProfitFactor{Kind: ProfitFactorUndefined}, nil
	case "Infinity", "+Inf", "Inf":
		return InfiniteProfitFactor(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ProfitFactor{}, fmt.Errorf("invalid profit factor %q", s)
	}
	return FiniteProfitFactor(v), nil
}

// MarshalJSON writes a number, the string "Infinity", or null.
func (p ProfitFactor) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ProfitFactorInfinite:
		return []byte(`"Infinity"`), nil
	case ProfitFactorUndefined:
		return []byte("null"), nil
	default:
		return json.Marshal(p.Value)
	}
}

func (p *ProfitFactor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ProfitFactor{Kind: ProfitFactorUndefined}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseProfitFactor(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = FiniteProfitFactor(v)
	return nil
}

// Metrics summarises a finished run.
type Metrics struct {
	TotalTrades        int          `json:"totalTrades"`
	WinningTrades      int          `json:"winningTrades"`
	LosingTrades       int          `json:"losingTrades"`
	WinRate            float64      `json:"winRate"`
	TotalReturn        float64      `json:"totalReturn"`
	TotalReturnPercent float64      `json:"totalReturnPercent"`
	MaxDrawdown        float64      `json:"maxDrawdown"`
	SharpeRatio        float64      `json:"sharpeRatio"`
	ProfitFactor       ProfitFactor `json:"profitFactor"`
	AvgWin             float64      `json:"avgWin"`
	AvgLoss            float64      `json:"avgLoss"`
	BestTrade          float64      `json:"bestTrade"`
	WorstTrade         float64      `json:"worstTrade"`
	AvgHoldingHours    float64      `json:"avgHoldingHours"`
}

// ComputeMetrics derives the summary from a finished state. It reads the state
// only, so repeated calls give identical results. A run without trades yields
// all-zero metrics.
func ComputeMetrics(state *SimulationState, initialCapital float64) Metrics {
	if state == nil || len(state.Trades) == 0 || initialCapital <= 0 {
		return Metrics{}
	}

	finalCapital := state.Capital.InexactFloat64()
	totalReturn := finalCapital - initialCapital

	var wins, losses int
	var grossProfit, grossLoss float64
	var holdingMs int64
	best := math.Inf(-1)
	worst := math.Inf(1)

	for _, t := range state.Trades {
		switch {
		case t.PnL > 0:
			wins++
			grossProfit += t.PnL
		case t.PnL < 0:
			losses++
			grossLoss += -t.PnL
		}
		best = math.Max(best, t.PnL)
		worst = math.Min(worst, t.PnL)
		holdingMs += t.DurationMs
	}
	n := len(state.Trades)

	m := Metrics{
		TotalTrades:        n,
		WinningTrades:      wins,
		LosingTrades:       losses,
		WinRate:            float64(wins) / float64(n) * 100,
		TotalReturn:        totalReturn,
		TotalReturnPercent: totalReturn / initialCapital * 100,
		MaxDrawdown:        state.MaxDrawdownPercent,
		SharpeRatio:        SharpeRatio(state.Equity),
		BestTrade:          best,
		WorstTrade:         worst,
		AvgHoldingHours:    float64(holdingMs) / float64(n) / 3_600_000,
	}
	if wins > 0 {
		m.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = grossLoss / float64(losses)
	}

	switch {
	case grossLoss > 0:
		m.ProfitFactor = FiniteProfitFactor(grossProfit / grossLoss)
	case grossProfit > 0:
		m.ProfitFactor = InfiniteProfitFactor()
	default:
		m.ProfitFactor = FiniteProfitFactor(0)
	}
	return m
}

// PeriodReturns converts an equity curve into simple per-sample returns.
func PeriodReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (equity[i].Value-prev)/prev)
	}
	return returns
}

// SharpeRatio is mean/stddev of period returns scaled by sqrt(252), using the
// population standard deviation. Zero when there are fewer than two samples or
// no variance.
func SharpeRatio(equity []EquityPoint) float64 {
	returns := PeriodReturns(equity)
	if len(returns) == 0 {
		return 0
	}
	mean, std := meanStdDev(returns)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(TradingPeriodsPerYear)
}

func meanStdDev(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
