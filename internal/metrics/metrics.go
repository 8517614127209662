// Package metrics exposes Prometheus metrics for the screener, backtester
// and gateway, plus the /healthz liveness endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Screening run
	SymbolsTotal   *prometheus.CounterVec // labels: outcome=passed|failed|error|blacklisted
	ExitSignals    *prometheus.CounterVec // labels: reason
	EvalDur        prometheus.Histogram
	FetchDur       *prometheus.HistogramVec // labels: stage=bars|flow
	RunDur         prometheus.Gauge
	LastRunUnix    prometheus.Gauge
	PassedLastRun  prometheus.Gauge
	WorkersBusy    prometheus.Gauge
	Notifications  *prometheus.CounterVec // labels: kind=entry|exit, status=ok|error
	FanoutDrops    *prometheus.CounterVec // labels: subscriber
	SQLiteWriteDur prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Backtest
	BacktestTrades      prometheus.Counter
	BacktestTotalReturn *prometheus.GaugeVec // labels: symbol

	// Gateway
	WSClients      prometheus.Gauge
	SignalsRelayed prometheus.Counter
	MarketState    prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates every metric and registers it with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SymbolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_symbols_total",
			Help: "Symbols processed, by outcome",
		}, []string{"outcome"}),
		ExitSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_exit_signals_total",
			Help: "Exit rules fired, by reason",
		}, []string{"reason"}),
		EvalDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_evaluate_duration_seconds",
			Help:    "Signal engine latency per symbol",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screener_fetch_duration_seconds",
			Help:    "Market data load latency (cache + network)",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		RunDur: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_run_duration_seconds",
			Help: "Wall time of the last screening run",
		}),
		LastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_last_run_timestamp_seconds",
			Help: "Unix time the last screening run finished",
		}),
		PassedLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_passed_last_run",
			Help: "Symbols that passed every entry gate in the last run",
		}),
		WorkersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_workers_busy",
			Help: "Worker goroutines currently processing a symbol",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_notifications_total",
			Help: "Alerts sent, by kind and delivery status",
		}, []string{"kind", "status"}),
		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screener_fanout_drops_total",
			Help: "Results dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screener_sqlite_write_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screener_redis_buffered_publishes_total",
			Help: "Signal publishes buffered while the Redis breaker was open",
		}),

		BacktestTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Round-trip trades simulated",
		}),
		BacktestTotalReturn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_total_return_ratio",
			Help: "Total return of the latest backtest per symbol",
		}, []string{"symbol"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		SignalsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_signals_relayed_total",
			Help: "Signals received from PubSub and fanned out",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.SymbolsTotal,
		m.ExitSignals,
		m.EvalDur,
		m.FetchDur,
		m.RunDur,
		m.LastRunUnix,
		m.PassedLastRun,
		m.WorkersBusy,
		m.Notifications,
		m.FanoutDrops,
		m.SQLiteWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.BacktestTrades,
		m.BacktestTotalReturn,
		m.WSClients,
		m.SignalsRelayed,
		m.MarketState,
	)
	return m
}

// ObserveBreaker mirrors a circuit breaker transition into the gauges.
// to is the numeric breaker state (0=closed, 1=open, 2=half-open).
func (m *Metrics) ObserveBreaker(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
