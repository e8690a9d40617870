// Package metrics records copilot operation counters on a private Prometheus
// registry. The registry is never served; Snapshot renders it as text for the
// CLI.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Recorder owns the collectors for one copilot process.
type Recorder struct {
	registry *prometheus.Registry

	llmRequests          *prometheus.CounterVec
	llmDuration          *prometheus.HistogramVec
	streamEvents         *prometheus.CounterVec
	streamLinesDropped   prometheus.Counter
	staleEventsDropped   prometheus.Counter
	tasks                *prometheus.CounterVec
	plans                *prometheus.CounterVec
	extractionCandidates *prometheus.CounterVec
	applies              *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry. Each recorder is
// independent, so tests can create as many as they like.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Model requests by backend, model, request kind, and outcome",
			},
			[]string{"backend", "model", "kind", "outcome"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_seconds",
				Help:    "Model request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "kind"},
		),
		streamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_events_total",
				Help: "Stream events delivered to handlers, by kind",
			},
			[]string{"kind"},
		),
		streamLinesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_lines_dropped_total",
				Help: "Malformed stream lines dropped by the wire decoder",
			},
		),
		staleEventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "stale_events_dropped_total",
				Help: "Events discarded because their session was superseded",
			},
		),
		tasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_total",
				Help: "Plan tasks reaching a terminal status, by tool",
			},
			[]string{"tool", "status"},
		),
		plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plans_total",
				Help: "Completed plans by outcome",
			},
			[]string{"outcome"},
		),
		extractionCandidates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extraction_candidates_total",
				Help: "Code candidates produced, by extraction strategy",
			},
			[]string{"strategy"},
		),
		applies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applies_total",
				Help: "Attempts to apply extracted code, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Nop returns a recorder whose registry is never read. Callers record into it
// unconditionally and the numbers go nowhere.
func Nop() *Recorder {
	return NewRecorder()
}

// ObserveLLMRequest records one model call.
func (r *Recorder) ObserveLLMRequest(backend, model, kind, outcome string, duration time.Duration) {
	r.llmRequests.WithLabelValues(backend, model, kind, outcome).Inc()
	r.llmDuration.WithLabelValues(backend, kind).Observe(duration.Seconds())
}

// IncStreamEvent counts a delivered stream event.
func (r *Recorder) IncStreamEvent(kind string) {
	r.streamEvents.WithLabelValues(kind).Inc()
}

// IncStreamLineDropped counts a malformed wire line the decoder skipped.
func (r *Recorder) IncStreamLineDropped() {
	r.streamLinesDropped.Inc()
}

// IncStaleEvent counts an event dropped by the session ID guard.
func (r *Recorder) IncStaleEvent() {
	r.staleEventsDropped.Inc()
}

// IncTask counts a task reaching a terminal status.
func (r *Recorder) IncTask(tool, status string) {
	r.tasks.WithLabelValues(tool, status).Inc()
}

// IncPlan counts a finished plan.
func (r *Recorder) IncPlan(outcome string) {
	r.plans.WithLabelValues(outcome).Inc()
}

// IncExtractionCandidate counts a candidate by the strategy that found it.
func (r *Recorder) IncExtractionCandidate(strategy string) {
	r.extractionCandidates.WithLabelValues(strategy).Inc()
}

// IncApply counts an attempt to apply extracted code.
func (r *Recorder) IncApply(outcome string) {
	r.applies.WithLabelValues(outcome).Inc()
}

// Snapshot writes the registry in the Prometheus text exposition format.
func (r *Recorder) Snapshot(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", family.GetName(), err)
		}
	}
	return nil
}
