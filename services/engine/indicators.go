package engine

// SMAAt returns the simple moving average of closes over the period candles
// ending at index. ok is false when fewer than period candles are available.
func SMAAt(series []Candle, index, period int) (sma float64, ok bool) {
	if period <= 0 || index < period-1 || index >= len(series) {
		return 0, false
	}
	sum := 0.0
	for j := 0; j < period; j++ {
		sum += series[index-j].Close
	}
	return sum / float64(period), true
}
