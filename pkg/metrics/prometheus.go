package metrics

import (
	"SwarmTrader/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	candidates    prometheus.Histogram
	admissions    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	exits         *prometheus.CounterVec
	realizedPnL   *prometheus.CounterVec
	capital       *prometheus.GaugeVec
	openPositions prometheus.Gauge
	breakerState  prometheus.Gauge
	strategyTrips prometheus.Gauge
	sourceLatency *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_cycles_total",
				Help: "Scheduler cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swarm_cycle_duration_seconds",
				Help:    "Wall time of one scheduler cycle",
				Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
			},
		),
		candidates: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swarm_cycle_candidates",
				Help:    "Ranked candidates per cycle",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_admissions_total",
				Help: "Positions opened by strategy",
			},
			[]string{"strategy"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_rejections_total",
				Help: "Candidates not admitted by reason",
			},
			[]string{"reason"},
		),
		exits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_exits_total",
				Help: "Positions closed by strategy and reason",
			},
			[]string{"strategy", "reason"},
		),
		realizedPnL: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_realized_pnl_quote_total",
				Help: "Realized P&L in quote currency, split by sign",
			},
			[]string{"strategy", "side"},
		),
		capital: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swarm_capital_quote",
				Help: "Capital book in quote currency",
			},
			[]string{"kind"},
		),
		openPositions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarm_open_positions",
				Help: "Open positions",
			},
		),
		breakerState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarm_breaker_state",
				Help: "Portfolio breaker: 0 normal, 1 tripped daily, 2 tripped drawdown",
			},
		),
		strategyTrips: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "swarm_breaker_strategy_trips",
				Help: "Strategies blocked by the breaker",
			},
		),
		sourceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarm_source_duration_seconds",
				Help:    "Opportunity source latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swarm_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swarm_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swarm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordCycle(outcome string, seconds float64) {
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(seconds)
}

func (r *Recorder) RecordCandidates(n int) {
	r.candidates.Observe(float64(n))
}

func (r *Recorder) RecordAdmission(strategy string) {
	r.admissions.WithLabelValues(strategy).Inc()
}

func (r *Recorder) RecordRejection(reason string) {
	r.rejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordExit(strategy, reason string, pnl float64) {
	r.exits.WithLabelValues(strategy, reason).Inc()
	if pnl >= 0 {
		r.realizedPnL.WithLabelValues(strategy, "profit").Add(pnl)
	} else {
		r.realizedPnL.WithLabelValues(strategy, "loss").Add(-pnl)
	}
}

func (r *Recorder) RecordCapital(c models.CapitalState) {
	r.capital.WithLabelValues("total").Set(c.TotalCapital)
	r.capital.WithLabelValues("deployed").Set(c.DeployedCapital)
	r.capital.WithLabelValues("available").Set(c.AvailableCapital)
	r.capital.WithLabelValues("peak").Set(c.PeakCapital)
	r.capital.WithLabelValues("pnl_today").Set(c.RealizedPnLToday)
	r.openPositions.Set(float64(c.OpenPositions))
}

func (r *Recorder) RecordBreaker(st models.BreakerState) {
	switch st.Status {
	case models.BreakerTrippedDaily:
		r.breakerState.Set(1)
	case models.BreakerTrippedDrawdown:
		r.breakerState.Set(2)
	default:
		r.breakerState.Set(0)
	}
	r.strategyTrips.Set(float64(len(st.Strategies)))
}

func (r *Recorder) RecordSourceLatency(strategy string, seconds float64) {
	r.sourceLatency.WithLabelValues(strategy).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCycle(string, float64) {}
func (Nop) RecordCandidates(int) {}
func (Nop) RecordAdmission(string) {}
func (Nop) RecordRejection(string) {}
func (Nop) RecordExit(string, string, float64) {}
func (Nop) RecordCapital(models.CapitalState) {}
func (Nop) RecordBreaker(models.BreakerState) {}
func (Nop) RecordSourceLatency(string, float64) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
