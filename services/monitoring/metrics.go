// Package monitoring exposes Prometheus instrumentation for the backtesting service.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds monitoring configuration
type Config struct {
	Namespace string `yaml:"namespace"`
	Enabled   bool   `yaml:"enabled"`
}

// Metrics groups every collector the service records into. Each instance owns
// its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	CandlesProcessed  prometheus.Counter
	TradesClosed      prometheus.Counter
	CacheLookups      *prometheus.CounterVec
	SyntheticFallback *prometheus.CounterVec
	StoreQueries      *prometheus.HistogramVec
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics(cfg Config) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "backtest"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "Backtest runs by operation and outcome",
		}, []string{"operation", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a backtest run including data load and persistence",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
		CandlesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "candles_processed_total",
			Help:      "Candles replayed through the simulator",
		}),
		TradesClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "trades_closed_total",
			Help:      "Round-trip trades produced by simulations",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "series_cache_lookups_total",
			Help:      "Candle cache lookups by result",
		}, []string{"result"}),
		SyntheticFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "synthetic_series_total",
			Help:      "Series synthesized because the store had no candles",
		}, []string{"symbol", "timeframe"}),
		StoreQueries: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "store_query_duration_seconds",
			Help:      "Candle store query latency",
		}, []string{"outcome"}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(operation, status).Inc()
	m.RunDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Synthetic(symbol, timeframe string) {
	if m != nil {
		m.SyntheticFallback.WithLabelValues(symbol, timeframe).Inc()
	}
}

func (m *Metrics) Simulated(candles, trades int) {
	if m == nil {
		return
	}
	m.CandlesProcessed.Add(float64(candles))
	m.TradesClosed.Add(float64(trades))
}

func (m *Metrics) ObserveStoreQuery(started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StoreQueries.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and for callers registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
