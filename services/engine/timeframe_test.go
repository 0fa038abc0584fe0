package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeframeToMs(t *testing.T) {
	tests := []struct {
		tf   string
		want int64
	}{
		{"1m", 60_000},
		{"5m", 300_000},
		{"15m", 900_000},
		{"1h", 3_600_000},
		{"4h", 14_400_000},
		{"1d", 86_400_000},
		{"2w", 3_600_000},
		{"", 3_600_000},
	}
	for _, tt := range tests {
		t.Run(tt.tf, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeframeToMs(tt.tf))
		})
	}
}

func TestTimeframeParseAndDuration(t *testing.T) {
	tf, ok := ParseTimeframe("4h")
	assert.True(t, ok)
	assert.Equal(t, 4*time.Hour, tf.Duration())

	_, ok = ParseTimeframe("3h")
	assert.False(t, ok)
	assert.Equal(t, time.Hour, Timeframe("3h").Duration())
	assert.Len(t, Timeframes(), 6)
}
