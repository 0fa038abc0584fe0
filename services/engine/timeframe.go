package engine

import "time"

// Timeframe is the bar interval of a candle series.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// DefaultTimeframe is used when a request omits the timeframe and as the
// fallback duration for unrecognised values.
const DefaultTimeframe = TF1h

var timeframeMs = map[Timeframe]int64{
	TF1m:  60 * 1000,
	TF5m:  5 * 60 * 1000,
	TF15m: 15 * 60 * 1000,
	TF1h:  60 * 60 * 1000,
	TF4h:  4 * 60 * 60 * 1000,
	TF1d:  24 * 60 * 60 * 1000,
}

// Timeframes lists the supported intervals from shortest to longest.
func Timeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h, TF1d}
}

// ParseTimeframe reports whether s names a supported interval.
func ParseTimeframe(s string) (Timeframe, bool) {
	tf := Timeframe(s)
	_, ok := timeframeMs[tf]
	return tf, ok
}

// Valid reports whether tf is one of the supported intervals.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMs[tf]
	return ok
}

// TimeframeToMs maps a timeframe to its length in milliseconds.
// Unknown values fall back to the 1h duration rather than failing.
func TimeframeToMs(tf string) int64 {
	if ms, ok := timeframeMs[Timeframe(tf)]; ok {
		return ms
	}
	return timeframeMs[DefaultTimeframe]
}

// Duration returns the interval length, with the same 1h fallback as TimeframeToMs.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(TimeframeToMs(string(tf))) * time.Millisecond
}
