package engine

import "time"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// candlesFromCloses builds hourly candles whose open/high/low hug the close.
func candlesFromCloses(closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

// scripted returns a signal function that fires the given actions by index.
func scripted(actions map[int]Action) SignalFunc {
	return func(_ []Candle, index int) Signal {
		if a, ok := actions[index]; ok {
			return Signal{Action: a, Reason: "scripted"}
		}
		return Signal{Action: ActionHold}
	}
}

func defaultSimConfig() SimConfig {
	return SimConfig{
		Symbol:               "BTC",
		Start:                t0,
		InitialCapital:       10000,
		PositionSizeFraction: 0.1,
		CommissionRate:       0.001,
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
