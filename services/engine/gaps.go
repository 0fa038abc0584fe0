package engine

import "time"

// DetectGaps checks a sorted series for spacing wider than one step and returns
// the timestamp of the candle preceding each gap.
func DetectGaps(series []Candle, step time.Duration) (gaps []time.Time) {
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp.Sub(series[i-1].Timestamp) > step {
			gaps = append(gaps, series[i-1].Timestamp)
		}
	}
	return gaps
}

// IsAscending reports whether timestamps strictly increase.
func IsAscending(series []Candle) bool {
	for i := 1; i < len(series); i++ {
		if !series[i].Timestamp.After(series[i-1].Timestamp) {
			return false
		}
	}
	return true
}
