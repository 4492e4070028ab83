// Package telemetry exposes tuner progress as prometheus metrics written to a
// node-exporter textfile at the end of every command.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hailam/chesstuner/internal/state"
)

// Metrics groups the tuner collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	cycle         prometheus.Gauge
	phase         *prometheus.GaugeVec
	bestScore     prometheus.Gauge
	players       *prometheus.GaugeVec
	datasets      prometheus.Gauge
	experiments   *prometheus.GaugeVec
	apiCalls      *prometheus.CounterVec
	apiWaits      prometheus.Counter
	runDuration   *prometheus.HistogramVec
	advisoryCalls *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		cycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "chesstuner_cycle",
			Help: "Current tuning cycle number.",
		}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chesstuner_phase",
			Help: "1 for the phase the tuner is in, 0 otherwise.",
		}, []string{"phase"}),
		bestScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "chesstuner_baseline_score",
			Help: "Composite score of the most recent recorded baseline.",
		}),
		players: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chesstuner_players",
			Help: "Players in the pool by Elo band.",
		}, []string{"band"}),
		datasets: f.NewGauge(prometheus.GaugeOpts{
			Name: "chesstuner_datasets",
			Help: "Cached player datasets.",
		}),
		experiments: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chesstuner_experiments",
			Help: "Experiments in the current plan by status.",
		}, []string{"status"}),
		apiCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chesstuner_player_api_calls_total",
			Help: "Player-data API calls by endpoint and outcome.",
		}, []string{"endpoint", "status"}),
		apiWaits: f.NewCounter(prometheus.CounterOpts{
			Name: "chesstuner_player_api_rate_limit_waits_total",
			Help: "Calls that had to wait for the fixed inter-call delay.",
		}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chesstuner_accuracy_run_seconds",
			Help:    "Duration of single accuracy-test runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"mode"}),
		advisoryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chesstuner_advisory_calls_total",
			Help: "Advisory completions by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveState refreshes the gauges from st.
func (m *Metrics) ObserveState(st *state.TunerState) {
	if m == nil || st == nil {
		return
	}
	m.cycle.Set(float64(st.Cycle))
	for p := state.PhaseIdle; p <= state.PhaseWaiting; p++ {
		v := 0.0
		if p == st.Phase {
			v = 1
		}
		m.phase.WithLabelValues(p.String()).Set(v)
	}
	if rec, ok := st.LastBaseline(); ok {
		m.bestScore.Set(rec.Baseline.Score)
	}

	m.players.Reset()
	for _, p := range st.Players {
		m.players.WithLabelValues(p.Band.String()).Inc()
	}
	m.datasets.Set(float64(len(st.Datasets)))

	m.experiments.Reset()
	if st.Plan != nil {
		for _, e := range st.Plan.Experiments {
			m.experiments.WithLabelValues(e.Status.String()).Inc()
		}
	}
}

// APICall counts one player-data API call.
func (m *Metrics) APICall(endpoint, status string) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(endpoint, status).Inc()
}

// APIWait counts one call delayed by the rate limiter.
func (m *Metrics) APIWait() {
	if m == nil {
		return
	}
	m.apiWaits.Inc()
}

// RunDuration records how long one accuracy run took.
func (m *Metrics) RunDuration(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(mode).Observe(seconds)
}

// AdvisoryCall counts one advisory outcome (ok, error, unparsable, disabled).
func (m *Metrics) AdvisoryCall(outcome string) {
	if m == nil {
		return
	}
	m.advisoryCalls.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the current values in the prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
