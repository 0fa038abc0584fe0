package marketdata

import (
	"math"
	"math/rand"
	"time"

	"backtest-service/services/engine"
)

const (
	syntheticStartPrice = 100.0
	// Keeps the synthetic low strictly positive.
	syntheticPriceFloor = 0.01
)

// Synthesize produces a random-walk series from start to end inclusive, one
// candle per timeframe step. The walk starts at 100 with a slight upward drift.
func Synthesize(rng *rand.Rand, timeframe string, start, end time.Time) []engine.Candle {
	if end.Before(start) {
		return nil
	}
	step := engine.Timeframe(timeframe).Duration()
	n := int(end.Sub(start)/step) + 1
	series := make([]engine.Candle, 0, n)

	price := syntheticStartPrice
	for ts := start; !ts.After(end); ts = ts.Add(step) {
		change := (rng.Float64() - 0.48) * 2
		c := engine.Candle{
			Timestamp: ts,
			Open:      price,
			High:      price + math.Abs(rng.Float64()*2),
			Low:       price - math.Abs(rng.Float64()*2),
			Close:     price + change,
			Volume:    rng.Float64() * 1e6,
		}
		if c.Close < syntheticPriceFloor {
			c.Close = syntheticPriceFloor
		}
		c.High = math.Max(c.High, math.Max(c.Open, c.Close))
		c.Low = math.Min(c.Low, math.Min(c.Open, c.Close))
		if c.Low < syntheticPriceFloor {
			c.Low = math.Min(syntheticPriceFloor, c.Close)
		}
		series = append(series, c)
		price = c.Close
	}
	return series
}
