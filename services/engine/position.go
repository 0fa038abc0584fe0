package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// openLong commits fraction of the current cash to a long position at the
// candle close. The entry commission is charged on top of the invested amount.
func (st *SimulationState) openLong(c Candle, fraction, commissionRate decimal.Decimal) (*Position, bool) {
	if st.Position != nil || c.Close <= 0 {
		return nil, false
	}
	investAmount := st.Capital.Mul(fraction)
	if !investAmount.IsPositive() {
		return nil, false
	}
	price := decimal.NewFromFloat(c.Close)
	commissionCost := investAmount.Mul(commissionRate)

	pos := &Position{
		EntryPrice:     price,
		EntryTime:      c.Timestamp,
		Quantity:       investAmount.Div(price),
		InvestedAmount: investAmount.Add(commissionCost),
	}
	st.Position = pos
	st.Capital = st.Capital.Sub(pos.InvestedAmount)
	return pos, true
}

// closeLong sells the open position at the candle close and credits the net
// proceeds. It returns false when there is nothing to close.
func (st *SimulationState) closeLong(c Candle, commissionRate decimal.Decimal, reason ExitReason) (Trade, bool) {
	pos := st.Position
	if pos == nil {
		return Trade{}, false
	}
	exitPrice := decimal.NewFromFloat(c.Close)
	exitValue := pos.Quantity.Mul(exitPrice)
	commissionCost := exitValue.Mul(commissionRate)
	netExit := exitValue.Sub(commissionCost)
	pnl := netExit.Sub(pos.InvestedAmount)

	trade := Trade{
		Side:           "LONG",
		EntryPrice:     pos.EntryPrice.InexactFloat64(),
		EntryTime:      pos.EntryTime,
		ExitPrice:      c.Close,
		ExitTime:       c.Timestamp,
		Quantity:       pos.Quantity.InexactFloat64(),
		InvestedAmount: pos.InvestedAmount.InexactFloat64(),
		PnL:            pnl.InexactFloat64(),
		PnLPercent:     pnl.Div(pos.InvestedAmount).Mul(hundred).InexactFloat64(),
		DurationMs:     c.Timestamp.Sub(pos.EntryTime).Milliseconds(),
		ExitReason:     reason,
	}
	st.Trades = append(st.Trades, trade)
	st.Capital = st.Capital.Add(netExit)
	st.Position = nil
	return trade, true
}

// markToMarket values cash plus the open position at price.
func (st *SimulationState) markToMarket(price float64) float64 {
	equity := st.Capital
	if st.Position != nil {
		equity = equity.Add(st.Position.Quantity.Mul(decimal.NewFromFloat(price)))
	}
	return equity.InexactFloat64()
}

// recordEquity appends a sample and folds it into the running peak and drawdown.
func (st *SimulationState) recordEquity(ts time.Time, value float64) {
	st.Equity = append(st.Equity, EquityPoint{Timestamp: ts, Value: value})
	if value > st.PeakEquity {
		st.PeakEquity = value
	}
	if st.PeakEquity > 0 {
		drawdown := (st.PeakEquity - value) / st.PeakEquity * 100
		if drawdown > st.MaxDrawdownPercent {
			st.MaxDrawdownPercent = drawdown
		}
	}
}
