package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the OHLC relationships and that every field is a finite non-negative number.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("candle %s: non-finite or negative value %v", c.Timestamp.Format(time.RFC3339), v)
		}
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s: OHLC out of order (o=%v h=%v l=%v c=%v)",
			c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	return nil
}

// Position is the single open long position of a run. Ledger amounts are decimals.
type Position struct {
	EntryPrice     decimal.Decimal
	EntryTime      time.Time
	Quantity       decimal.Decimal
	InvestedAmount decimal.Decimal // includes the entry commission
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal    ExitReason = "signal"
	ExitEndOfData ExitReason = "end_of_data"
)

// Trade is a closed round trip.
type Trade struct {
	Side           string     `json:"type"`
	EntryPrice     float64    `json:"entryPrice"`
	EntryTime      time.Time  `json:"entryDate"`
	ExitPrice      float64    `json:"exitPrice"`
	ExitTime       time.Time  `json:"exitDate"`
	Quantity       float64    `json:"quantity"`
	InvestedAmount float64    `json:"investedAmount"`
	PnL            float64    `json:"pnl"`
	PnLPercent     float64    `json:"pnlPercent"`
	DurationMs     int64      `json:"duration"` // holding time in milliseconds
	ExitReason     ExitReason `json:"exitReason"`
}

// EquityPoint is one sample of total portfolio value.
type EquityPoint struct {
	Timestamp time.Time `json:"date"`
	Value     float64   `json:"value"`
}

// SimulationState is the working memory of one run. It is owned by a single
// Simulator and never shared between runs.
type SimulationState struct {
	Capital            decimal.Decimal
	Position           *Position
	Trades             []Trade
	Equity             []EquityPoint
	PeakEquity         float64
	MaxDrawdownPercent float64
	Events             EventLog
}

// Period is the requested date range of a run.
type Period struct {
	Start time.Time `json:"startDate"`
	End   time.Time `json:"endDate"`
}

// Capital holds the cash at the start and end of a run.
type Capital struct {
	Initial float64 `json:"initial"`
	Final   float64 `json:"final"`
}

// RunParameters echoes the sizing inputs a result was produced with.
type RunParameters struct {
	PositionSizeFraction float64 `json:"positionSizeFraction"`
	CommissionRate       float64 `json:"commissionRate"`
}

// BacktestResult is the persisted and returned record of a finished run.
type BacktestResult struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	StrategyID   string        `json:"strategyId"`
	StrategyName string        `json:"strategy"`
	Symbol       string        `json:"symbol"`
	Timeframe    Timeframe     `json:"timeframe"`
	Period       Period        `json:"period"`
	Capital      Capital       `json:"capital"`
	Parameters   RunParameters `json:"parameters"`
	Metrics      Metrics       `json:"metrics"`
	Trades       []Trade       `json:"trades"`
	Equity       []EquityPoint `json:"equity"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// FinalEquity returns the last equity sample, or the initial capital for an empty curve.
func (r *BacktestResult) FinalEquity() float64 {
	if len(r.Equity) == 0 {
		return r.Capital.Initial
	}
	return r.Equity[len(r.Equity)-1].Value
}

// ResultSummary is a history row: a result without its trade and equity arrays.
type ResultSummary struct {
	ID           string    `json:"id"`
	StrategyID   string    `json:"strategyId"`
	StrategyName string    `json:"strategyName"`
	Symbol       string    `json:"symbol"`
	Timeframe    Timeframe `json:"timeframe"`
	Period       Period    `json:"period"`
	Capital      Capital   `json:"capital"`
	TotalReturn  float64   `json:"totalReturn"`
	WinRate      float64   `json:"winRate"`
	MaxDrawdown  float64   `json:"maxDrawdown"`
	SharpeRatio  float64   `json:"sharpeRatio"`
	TotalTrades  int       `json:"totalTrades"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summary projects a result onto its history row.
func (r *BacktestResult) Summary() ResultSummary {
	return ResultSummary{
		ID:           r.ID,
		StrategyID:   r.StrategyID,
		StrategyName: r.StrategyName,
		Symbol:       r.Symbol,
		Timeframe:    r.Timeframe,
		Period:       r.Period,
		Capital:      r.Capital,
		TotalReturn:  r.Metrics.TotalReturn,
		WinRate:      r.Metrics.WinRate,
		MaxDrawdown:  r.Metrics.MaxDrawdown,
		SharpeRatio:  r.Metrics.SharpeRatio,
		TotalTrades:  r.Metrics.TotalTrades,
		CreatedAt:    r.CreatedAt,
	}
}
