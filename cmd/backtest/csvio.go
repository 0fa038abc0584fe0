package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"backtest-service/services/engine"
)

var csvHeader = []string{"timestamp_ms", "open", "high", "low", "close", "volume"}

// utf8Reader decodes UTF-16 input (either byte order, BOM required) and passes
// everything else through.
func utf8Reader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec)
	}
	return br
}

// readCandlesCSV parses timestamp_ms,open,high,low,close[,volume] rows. A header
// row is skipped, as are rows whose timestamp does not parse. The result is
// sorted ascending.
func readCandlesCSV(r io.Reader) ([]engine.Candle, error) {
	cr := csv.NewReader(utf8Reader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	parse := func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(strings.Trim(s, `"`)), 64)
	}

	var out []engine.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) < 5 {
			continue
		}
		tsStr := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		c := engine.Candle{Timestamp: time.UnixMilli(ts).UTC()}
		for i, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close} {
			if *dst, err = parse(rec[i+1]); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, csvHeader[i+1], err)
			}
		}
		if len(rec) >= 6 {
			if c.Volume, err = parse(rec[5]); err != nil {
				return nil, fmt.Errorf("line %d column volume: %w", line, err)
			}
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func writeCandlesCSV(w io.Writer, candles []engine.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range candles {
		rec := []string{strconv.FormatInt(c.Timestamp.UnixMilli(), 10), f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// resample aggregates ascending candles into epoch-aligned buckets of width
// step: first open, max high, min low, last close, summed volume.
func resample(candles []engine.Candle, step time.Duration) []engine.Candle {
	stepMs := step.Milliseconds()
	if stepMs <= 0 {
		return nil
	}
	var out []engine.Candle
	for _, c := range candles {
		bucket := time.UnixMilli((c.Timestamp.UnixMilli() / stepMs) * stepMs).UTC()
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(bucket) {
			agg := &out[n-1]
			agg.High = max(agg.High, c.High)
			agg.Low = min(agg.Low, c.Low)
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		c.Timestamp = bucket
		out = append(out, c)
	}
	return out
}
