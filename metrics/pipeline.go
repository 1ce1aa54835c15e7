package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the default prefix registries give every metric.
const Namespace = "wirecrest"

// stepBuckets covers steps from sub-second profile lookups to collections
// that poll the provider for tens of minutes.
var stepBuckets = prometheus.ExponentialBuckets(0.25, 2, 14)

// PipelineMetrics records pipeline run outcomes. A nil *PipelineMetrics is a no-op.
type PipelineMetrics struct {
	runs           CounterVec
	stepFailures   CounterVec
	itemsCollected CounterVec
	lastSuccess    GaugeVec
	lastDuration   GaugeVec
	stepDuration   HistogramVec
}

// NewPipelineMetrics registers the pipeline metrics with reg.
func NewPipelineMetrics(reg Registry) (*PipelineMetrics, error) {
	runs, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Pipeline runs by platform and outcome.",
	}, []string{"platform", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_runs_total: %w", err)
	}

	stepFailures, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_step_failures_total",
		Help: "Pipeline step failures by platform and step.",
	}, []string{"platform", "step"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_step_failures_total: %w", err)
	}

	items, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_collected_total",
		Help: "Reviews collected by platform.",
	}, []string{"platform"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_items_collected_total: %w", err)
	}

	lastSuccess, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run per platform.",
	}, []string{"platform"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_last_success_timestamp_seconds: %w", err)
	}

	lastDuration, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_last_duration_seconds",
		Help: "Duration of the most recent run per platform.",
	}, []string{"platform"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_last_duration_seconds: %w", err)
	}

	stepDuration, err := reg.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_step_duration_seconds",
		Help:    "Time spent in each pipeline step by platform, step and outcome.",
		Buckets: stepBuckets,
	}, []string{"platform", "step", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline_step_duration_seconds: %w", err)
	}

	return &PipelineMetrics{
		runs:           runs,
		stepFailures:   stepFailures,
		itemsCollected: items,
		lastSuccess:    lastSuccess,
		lastDuration:   lastDuration,
		stepDuration:   stepDuration,
	}, nil
}

// RecordRun records one finished run.
func (m *PipelineMetrics) RecordRun(platform, outcome string, items int, duration time.Duration) {
	if m == nil {
		return
	}
	m.runs.With(prometheus.Labels{"platform": platform, "outcome": outcome}).Inc()
	m.lastDuration.With(prometheus.Labels{"platform": platform}).Set(duration.Seconds())
	if items > 0 {
		m.itemsCollected.With(prometheus.Labels{"platform": platform}).Add(float64(items))
	}
	if outcome == "success" {
		m.lastSuccess.With(prometheus.Labels{"platform": platform}).Set(float64(time.Now().Unix()))
	}
}

// RecordStepFailure records a failed pipeline step.
func (m *PipelineMetrics) RecordStepFailure(platform, step string) {
	if m == nil {
		return
	}
	m.stepFailures.With(prometheus.Labels{"platform": platform, "step": step}).Inc()
}

// RecordStepDuration records how long a step ran before it ended with
// outcome: success, failure or cancelled.
func (m *PipelineMetrics) RecordStepDuration(platform, step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.With(prometheus.Labels{"platform": platform, "step": step, "outcome": outcome}).Observe(d.Seconds())
}

// RetryMetrics records retry queue activity. A nil *RetryMetrics is a no-op.
type RetryMetrics struct {
	enqueued          CounterVec
	attempts          CounterVec
	permanentFailures CounterVec
	entries           GaugeVec
}

// NewRetryMetrics registers the retry queue metrics with reg.
func NewRetryMetrics(reg Registry) (*RetryMetrics, error) {
	enqueued, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_failures_recorded_total",
		Help: "Failures reported to the retry queue by platform.",
	}, []string{"platform"})
	if err != nil {
		return nil, fmt.Errorf("creating retry_failures_recorded_total: %w", err)
	}

	attempts, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Retry attempts by platform and outcome.",
	}, []string{"platform", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating retry_attempts_total: %w", err)
	}

	permanent, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_permanent_failures_total",
		Help: "Entries that exhausted their retries, by platform.",
	}, []string{"platform"})
	if err != nil {
		return nil, fmt.Errorf("creating retry_permanent_failures_total: %w", err)
	}

	entries, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "retry_entries",
		Help: "Retry queue entries by status.",
	}, []string{"status"})
	if err != nil {
		return nil, fmt.Errorf("creating retry_entries: %w", err)
	}

	return &RetryMetrics{
		enqueued:          enqueued,
		attempts:          attempts,
		permanentFailures: permanent,
		entries:           entries,
	}, nil
}

func (m *RetryMetrics) RecordEnqueued(platform string) {
	if m == nil {
		return
	}
	m.enqueued.With(prometheus.Labels{"platform": platform}).Inc()
}

func (m *RetryMetrics) RecordAttempt(platform, outcome string) {
	if m == nil {
		return
	}
	m.attempts.With(prometheus.Labels{"platform": platform, "outcome": outcome}).Inc()
}

func (m *RetryMetrics) RecordPermanentFailure(platform string) {
	if m == nil {
		return
	}
	m.permanentFailures.With(prometheus.Labels{"platform": platform}).Inc()
}

// SetEntries publishes the number of entries in a status.
func (m *RetryMetrics) SetEntries(status string, n int) {
	if m == nil {
		return
	}
	m.entries.With(prometheus.Labels{"status": status}).Set(float64(n))
}
