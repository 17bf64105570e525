package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/pipeline"
)

// Metrics holds the Prometheus collectors for pipeline activity. It
// implements pipeline.Recorder so an executor can feed it directly.
// Collectors register against the given Registerer, never the global
// one.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runCost      *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepCost     *prometheus.CounterVec
	stepErrors   *prometheus.CounterVec
	activeRuns   prometheus.Gauge
	queueDepth   prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentpipe_runs_total",
				Help: "Total number of pipeline runs",
			},
			[]string{"chain", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentpipe_run_duration_seconds",
				Help:    "Duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"chain"},
		),
		runCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentpipe_run_cost_dollars_total",
				Help: "Accumulated cost of pipeline runs in USD",
			},
			[]string{"chain"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentpipe_steps_total",
				Help: "Total number of executed steps",
			},
			[]string{"type", "model", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contentpipe_step_duration_seconds",
				Help:    "Duration of individual steps",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"type", "model"},
		),
		stepCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentpipe_step_cost_dollars_total",
				Help: "Accumulated step cost in USD",
			},
			[]string{"type", "model"},
		),
		stepErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contentpipe_step_errors_total",
				Help: "Step failures by error kind",
			},
			[]string{"type", "model", "kind"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "contentpipe_active_runs",
				Help: "Runs currently executing",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "contentpipe_queue_depth",
				Help: "Jobs waiting in the run queue",
			},
		),
	}
}

// RecordStep counts one finished step.
func (m *Metrics) RecordStep(chainName string, stepType chain.StepType, model string, outcome pipeline.Outcome) {
	status := "success"
	if !outcome.Success {
		status = "failed"
		if outcome.Err != nil {
			m.stepErrors.WithLabelValues(string(stepType), model, string(outcome.Err.Kind)).Inc()
		}
	}

	m.stepsTotal.WithLabelValues(string(stepType), model, status).Inc()
	m.stepDuration.WithLabelValues(string(stepType), model).Observe(outcome.Elapsed.Seconds())
	if outcome.Cost > 0 {
		m.stepCost.WithLabelValues(string(stepType), model).Add(outcome.Cost)
	}
}

// RecordRun counts one finished run.
func (m *Metrics) RecordRun(chainName string, report *pipeline.Report) {
	status := "success"
	if !report.OverallSuccess {
		status = "failed"
	}

	m.runsTotal.WithLabelValues(chainName, status).Inc()
	m.runDuration.WithLabelValues(chainName).Observe(report.TotalElapsed.Seconds())
	if report.TotalCost > 0 {
		m.runCost.WithLabelValues(chainName).Add(report.TotalCost)
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	m.activeRuns.Inc()
}

// RunFinished marks a run as no longer active.
func (m *Metrics) RunFinished() {
	m.activeRuns.Dec()
}

// SetQueueDepth records the current queue backlog.
func (m *Metrics) SetQueueDepth(n int64) {
	m.queueDepth.Set(float64(n))
}
