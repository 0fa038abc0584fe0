package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"backtest-service/services/engine"
)

const sample = `timestamp_ms,open,high,low,close,volume
1709254800000,101,103,100,102,5
1709251200000,100,102,99,101,4
garbage,1,2,3,4,5
1709258400000,"102","104","101","103",6
`

func TestReadCandlesCSV(t *testing.T) {
	got, err := readCandlesCSV(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got[0].Timestamp)
	assert.True(t, engine.IsAscending(got))
	assert.Equal(t, 103.0, got[2].Close)
	assert.Equal(t, 6.0, got[2].Volume)
}

func TestReadCandlesCSVDecodesUTF16(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	utf16, err := enc.String(sample)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFE}, []byte(utf16[:2]))

	got, err := readCandlesCSV(strings.NewReader(utf16))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestReadCandlesCSVRejectsBadPrice(t *testing.T) {
	_, err := readCandlesCSV(strings.NewReader("1709251200000,100,x,99,101\n"))
	assert.ErrorContains(t, err, "column high")
}

func TestWriteThenReadCSV(t *testing.T) {
	in, err := readCandlesCSV(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeCandlesCSV(&buf, in))
	assert.True(t, strings.HasPrefix(buf.String(), "timestamp_ms,open,high,low,close,volume\n"))

	out, err := readCandlesCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestResample(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var in []engine.Candle
	for i := 0; i < 8; i++ {
		p := 100 + float64(i)
		in = append(in, engine.Candle{Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute), Open: p, High: p + 2, Low: p - 1, Close: p + 1, Volume: 1})
	}

	out := resample(in, time.Hour)
	require.Len(t, out, 2)
	assert.Equal(t, engine.Candle{Timestamp: t0, Open: 100, High: 105, Low: 99, Close: 104, Volume: 4}, out[0])
	assert.Equal(t, t0.Add(time.Hour), out[1].Timestamp)
	assert.Equal(t, 108.0, out[1].Close)

	assert.Nil(t, resample(in, 0))
}

func TestParseStrategy(t *testing.T) {
	d, err := parseStrategy("fast:5/20")
	require.NoError(t, err)
	assert.Equal(t, "fast", d.ID)
	assert.Equal(t, engine.StrategyParams{ShortPeriod: 5, LongPeriod: 20}, d.Params)

	d, err = parseStrategy("10/30")
	require.NoError(t, err)
	assert.Equal(t, "MA 10/30", d.Name)

	_, err = parseStrategy("fast")
	assert.Error(t, err)
}
