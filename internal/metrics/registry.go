// Package metrics exposes the trading loop to Prometheus. Every method is
// safe on a nil *Registry so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for FusionRun.
type Registry struct {
	reg *prometheus.Registry

	// Cycle metrics
	StepDuration *prometheus.HistogramVec
	CycleErrors  *prometheus.CounterVec

	// Signal metrics
	Signals        *prometheus.CounterVec
	SignalStrength *prometheus.GaugeVec
	ActiveRegime   *prometheus.GaugeVec
	Rejections     *prometheus.CounterVec

	// Order metrics
	Orders          *prometheus.CounterVec
	ExchangeLatency *prometheus.HistogramVec
	BreakerState    prometheus.Gauge
	PendingOrders   prometheus.Gauge

	// Portfolio metrics
	Balance       *prometheus.GaugeVec
	OpenPositions prometheus.Gauge
	Exits         *prometheus.CounterVec
	TradePnL      prometheus.Histogram
	SamplesDrop   *prometheus.CounterVec
}

// NewRegistry creates a registry with every FusionRun metric registered on
// its own prometheus.Registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fusionrun_step_duration_seconds",
				Help:    "Duration of each engine step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"step", "result"},
		),
		CycleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_cycle_errors_total",
				Help: "Engine cycle errors by step",
			},
			[]string{"step"},
		),
		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_signals_total",
				Help: "Fused signals by instrument and direction",
			},
			[]string{"instrument", "direction"},
		),
		SignalStrength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fusionrun_signal_strength",
				Help: "Strength of the latest fused signal (0.0 to 1.0)",
			},
			[]string{"instrument"},
		),
		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fusionrun_active_regime",
				Help: "Current regime per instrument (0=ranging, 1=trending)",
			},
			[]string{"instrument"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_entry_rejections_total",
				Help: "Entries refused by the sizer, by reason",
			},
			[]string{"reason"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_orders_total",
				Help: "Orders by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),
		ExchangeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fusionrun_exchange_latency_ms",
				Help:    "Exchange call latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			[]string{"op"},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusionrun_exchange_breaker_state",
				Help: "Exchange circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		PendingOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusionrun_pending_orders",
				Help: "Orders awaiting exchange confirmation",
			},
		),
		Balance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fusionrun_balance",
				Help: "Portfolio balance by bucket",
			},
			[]string{"bucket"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fusionrun_open_positions",
				Help: "Number of open positions",
			},
		),
		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_exits_total",
				Help: "Exit decisions by reason",
			},
			[]string{"reason"},
		),
		TradePnL: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fusionrun_trade_return_pct",
				Help:    "Return of closed trades in percent",
				Buckets: []float64{-20, -10, -5, -2, -1, 0, 1, 2, 5, 10, 20},
			},
		),
		SamplesDrop: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusionrun_samples_dropped_total",
				Help: "Samples rejected by the window store",
			},
			[]string{"instrument"},
		),
	}

	r.reg.MustRegister(
		r.StepDuration,
		r.CycleErrors,
		r.Signals,
		r.SignalStrength,
		r.ActiveRegime,
		r.Rejections,
		r.Orders,
		r.ExchangeLatency,
		r.BreakerState,
		r.PendingOrders,
		r.Balance,
		r.OpenPositions,
		r.Exits,
		r.TradePnL,
		r.SamplesDrop,
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for an engine step.
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a step.
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Engine step completed")
}

// RecordCycleError counts a failed engine step.
func (r *Registry) RecordCycleError(step string) {
	if r == nil {
		return
	}
	r.CycleErrors.WithLabelValues(step).Inc()
}

// RecordSignal records a fused signal.
func (r *Registry) RecordSignal(instrument, direction string, strength float64, trending bool) {
	if r == nil {
		return
	}
	r.Signals.WithLabelValues(instrument, direction).Inc()
	r.SignalStrength.WithLabelValues(instrument).Set(strength)
	regime := 0.0
	if trending {
		regime = 1
	}
	r.ActiveRegime.WithLabelValues(instrument).Set(regime)
}

// RecordRejection counts an entry refused by the sizer.
func (r *Registry) RecordRejection(reason string) {
	if r == nil {
		return
	}
	r.Rejections.WithLabelValues(reason).Inc()
}

// RecordOrder counts an order outcome such as filled, rejected or pending.
func (r *Registry) RecordOrder(purpose, outcome string) {
	if r == nil {
		return
	}
	r.Orders.WithLabelValues(purpose, outcome).Inc()
}

// RecordExchangeLatency records the duration of one exchange call.
func (r *Registry) RecordExchangeLatency(op string, d time.Duration) {
	if r == nil {
		return
	}
	r.ExchangeLatency.WithLabelValues(op).Observe(float64(d) / float64(time.Millisecond))
}

// SetBreakerState records the circuit breaker state.
func (r *Registry) SetBreakerState(state int) {
	if r == nil {
		return
	}
	r.BreakerState.Set(float64(state))
}

// SetPendingOrders records the number of unconfirmed orders.
func (r *Registry) SetPendingOrders(n int) {
	if r == nil {
		return
	}
	r.PendingOrders.Set(float64(n))
}

// SetPortfolio records balances and the open position count.
func (r *Registry) SetPortfolio(total, available, reserved float64, open int) {
	if r == nil {
		return
	}
	r.Balance.WithLabelValues("total").Set(total)
	r.Balance.WithLabelValues("available").Set(available)
	r.Balance.WithLabelValues("reserved").Set(reserved)
	r.OpenPositions.Set(float64(open))
}

// RecordExit counts an exit decision.
func (r *Registry) RecordExit(reason string) {
	if r == nil {
		return
	}
	r.Exits.WithLabelValues(reason).Inc()
}

// RecordTrade records the return of a closed trade.
func (r *Registry) RecordTrade(returnPct float64) {
	if r == nil {
		return
	}
	r.TradePnL.Observe(returnPct)
}

// RecordDroppedSample counts a sample refused by the window store.
func (r *Registry) RecordDroppedSample(instrument string) {
	if r == nil {
		return
	}
	r.SamplesDrop.WithLabelValues(instrument).Inc()
}
