// Package arrowpipeline encodes candle series and equity curves as Apache Arrow IPC streams
package arrowpipeline

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"backtest-service/services/engine"
)

// ContentType is the media type of an Arrow IPC stream.
const ContentType = "application/vnd.apache.arrow.stream"

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize   int    `yaml:"batch_size"`
	Compression string `yaml:"compression"` // "", "lz4" or "zstd"
}

var tsType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

var (
	candleSchema = arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: tsType},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	equitySchema = arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: tsType},
		{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
)

// Pipeline converts engine types to and from Arrow record batches
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

// NewPipeline creates a new Arrow pipeline
func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

func (p *Pipeline) writerOptions(schema *arrow.Schema) []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool)}
	switch p.config.Compression {
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	}
	return opts
}

// writeStream writes n rows as record batches of at most BatchSize rows.
func (p *Pipeline) writeStream(w io.Writer, schema *arrow.Schema, n int, fill func(b *array.RecordBuilder, i int)) error {
	writer := ipc.NewWriter(w, p.writerOptions(schema)...)
	b := array.NewRecordBuilder(p.memoryPool, schema)
	defer b.Release()

	batches := 0
	for from := 0; from < n; from += p.config.BatchSize {
		to := min(from+p.config.BatchSize, n)
		for i := from; i < to; i++ {
			fill(b, i)
		}
		rec := b.NewRecord()
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			writer.Close()
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
		batches++
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow stream: %w", err)
	}
	p.logger.Debug("Wrote Arrow stream", zap.Int("rows", n), zap.Int("batches", batches))
	return nil
}

// WriteCandles streams a candle series.
func (p *Pipeline) WriteCandles(w io.Writer, series []engine.Candle) error {
	return p.writeStream(w, candleSchema, len(series), func(b *array.RecordBuilder, i int) {
		c := series[i]
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(c.Timestamp.UnixMilli()))
		b.Field(1).(*array.Float64Builder).Append(c.Open)
		b.Field(2).(*array.Float64Builder).Append(c.High)
		b.Field(3).(*array.Float64Builder).Append(c.Low)
		b.Field(4).(*array.Float64Builder).Append(c.Close)
		b.Field(5).(*array.Float64Builder).Append(c.Volume)
	})
}

// WriteEquity streams an equity curve.
func (p *Pipeline) WriteEquity(w io.Writer, equity []engine.EquityPoint) error {
	return p.writeStream(w, equitySchema, len(equity), func(b *array.RecordBuilder, i int) {
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(equity[i].Timestamp.UnixMilli()))
		b.Field(1).(*array.Float64Builder).Append(equity[i].Value)
	})
}

// EncodeEquity returns the equity curve as a complete IPC stream.
func (p *Pipeline) EncodeEquity(equity []engine.EquityPoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.WriteEquity(&buf, equity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readStream checks the schema and hands every record to visit.
func (p *Pipeline) readStream(r io.Reader, want *arrow.Schema, visit func(rec arrow.Record) error) error {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer rdr.Release()

	if !rdr.Schema().Equal(want) {
		return fmt.Errorf("unexpected Arrow schema: %s", rdr.Schema())
	}
	for rdr.Next() {
		if err := visit(rdr.Record()); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read Arrow record: %w", err)
	}
	return nil
}

func msToTime(ts arrow.Timestamp) time.Time { return time.UnixMilli(int64(ts)).UTC() }

// ReadCandles decodes a stream written by WriteCandles.
func (p *Pipeline) ReadCandles(r io.Reader) ([]engine.Candle, error) {
	var out []engine.Candle
	err := p.readStream(r, candleSchema, func(rec arrow.Record) error {
		ts := rec.Column(0).(*array.Timestamp)
		open := rec.Column(1).(*array.Float64)
		high := rec.Column(2).(*array.Float64)
		low := rec.Column(3).(*array.Float64)
		cls := rec.Column(4).(*array.Float64)
		vol := rec.Column(5).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, engine.Candle{
				Timestamp: msToTime(ts.Value(i)),
				Open:      open.Value(i),
				High:      high.Value(i),
				Low:       low.Value(i),
				Close:     cls.Value(i),
				Volume:    vol.Value(i),
			})
		}
		return nil
	})
	return out, err
}

// ReadEquity decodes a stream written by WriteEquity.
func (p *Pipeline) ReadEquity(r io.Reader) ([]engine.EquityPoint, error) {
	var out []engine.EquityPoint
	err := p.readStream(r, equitySchema, func(rec arrow.Record) error {
		ts := rec.Column(0).(*array.Timestamp)
		val := rec.Column(1).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, engine.EquityPoint{Timestamp: msToTime(ts.Value(i)), Value: val.Value(i)})
		}
		return nil
	})
	return out, err
}
