// Package metrics provides Prometheus metrics for the parlay pipeline.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// PipelineMetrics collects and exposes pipeline Prometheus metrics.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	PhaseLatency    *prometheus.HistogramVec

	// Acquisition metrics
	CacheLookups   *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	EventsAcquired *prometheus.HistogramVec
	DataQuality    *prometheus.HistogramVec
	FallbackUsed   *prometheus.CounterVec

	// Generation metrics
	Attempts         *prometheus.CounterVec
	RuleViolations   *prometheus.CounterVec
	OddsCorrections  *prometheus.CounterVec
	LLMCost          *prometheus.CounterVec
	LLMErrors        *prometheus.CounterVec
	StreamingClients prometheus.Gauge
}

// NewPipelineMetrics creates a new pipeline metrics collector.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	pm := &PipelineMetrics{
		registry: registry,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_requests_total",
				Help: "Total number of pipeline requests",
			},
			[]string{"kind", "tier", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlay_request_duration_seconds",
				Help:    "End-to-end pipeline duration",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~400s
			},
			[]string{"kind"},
		),
		PhaseLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlay_phase_latency_seconds",
				Help:    "Individual phase latency",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"phase"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_cache_lookups_total",
				Help: "Cache lookups by layer and outcome",
			},
			[]string{"layer", "outcome"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_provider_errors_total",
				Help: "Absorbed external provider failures",
			},
			[]string{"provider", "op"},
		),
		EventsAcquired: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlay_events_acquired",
				Help:    "Events available to generation per request",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"source"},
		),
		DataQuality: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parlay_data_quality_score",
				Help:    "Acquisition data-quality score (0-100)",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{},
		),
		FallbackUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_fallback_total",
				Help: "Requests that needed bookmaker fallback or market expansion",
			},
			[]string{"kind"},
		),

		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_generation_attempts_total",
				Help: "Generation attempts by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		RuleViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_rule_violations_total",
				Help: "Validation rule failures",
			},
			[]string{"rule"},
		),
		OddsCorrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_odds_corrections_total",
				Help: "Combined-odds and payout values recomputed in post-processing",
			},
			[]string{"changed"},
		),
		LLMCost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_llm_cost_usd",
				Help: "Estimated model spend in USD",
			},
			[]string{"model"},
		),
		LLMErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parlay_llm_errors_total",
				Help: "Total number of LLM errors",
			},
			[]string{"model"},
		),
		StreamingClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "parlay_streaming_clients",
				Help: "Connected progress WebSocket clients",
			},
		),
	}

	pm.registerAll()

	return pm
}

func (pm *PipelineMetrics) registerAll() {
	pm.registry.MustRegister(
		pm.RequestsTotal,
		pm.RequestDuration,
		pm.PhaseLatency,
		pm.CacheLookups,
		pm.ProviderErrors,
		pm.EventsAcquired,
		pm.DataQuality,
		pm.FallbackUsed,
		pm.Attempts,
		pm.RuleViolations,
		pm.OddsCorrections,
		pm.LLMCost,
		pm.LLMErrors,
		pm.StreamingClients,
	)
}

// Registry returns the prometheus registry.
func (pm *PipelineMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// --- Helper methods for recording metrics ---

// RecordRequest records a finished pipeline request.
func (pm *PipelineMetrics) RecordRequest(kind, tier, status string, durationSec float64) {
	pm.RequestsTotal.WithLabelValues(kind, tier, status).Inc()
	if durationSec > 0 {
		pm.RequestDuration.WithLabelValues(kind).Observe(durationSec)
	}
}

// RecordPhase records a phase execution.
func (pm *PipelineMetrics) RecordPhase(phase string, durationSec float64) {
	pm.PhaseLatency.WithLabelValues(phase).Observe(durationSec)
}

// RecordCacheLookup records a cache lookup on one layer.
func (pm *PipelineMetrics) RecordCacheLookup(layer, outcome string) {
	pm.CacheLookups.WithLabelValues(layer, outcome).Inc()
}

// RecordProviderError records an absorbed provider failure.
func (pm *PipelineMetrics) RecordProviderError(provider, op string) {
	pm.ProviderErrors.WithLabelValues(provider, op).Inc()
}

// RecordAcquisition records the shape of an acquisition result.
func (pm *PipelineMetrics) RecordAcquisition(source string, events, quality int, fallback, expanded bool) {
	pm.EventsAcquired.WithLabelValues(source).Observe(float64(events))
	pm.DataQuality.WithLabelValues().Observe(float64(quality))
	if fallback {
		pm.FallbackUsed.WithLabelValues("bookmaker").Inc()
	}
	if expanded {
		pm.FallbackUsed.WithLabelValues("markets").Inc()
	}
}

// RecordAttempt records a generation attempt outcome.
func (pm *PipelineMetrics) RecordAttempt(tier, outcome string) {
	pm.Attempts.WithLabelValues(tier, outcome).Inc()
}

// RecordViolation records a failed validation rule.
func (pm *PipelineMetrics) RecordViolation(rule string) {
	pm.RuleViolations.WithLabelValues(rule).Inc()
}

// RecordCorrection records a post-processing odds rewrite.
func (pm *PipelineMetrics) RecordCorrection(changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	pm.OddsCorrections.WithLabelValues(label).Inc()
}

// RecordLLMCost adds model spend.
func (pm *PipelineMetrics) RecordLLMCost(model string, cost decimal.Decimal) {
	if f := DecimalToFloat64(cost); f > 0 {
		pm.LLMCost.WithLabelValues(model).Add(f)
	}
}

// RecordLLMError records a failed model call.
func (pm *PipelineMetrics) RecordLLMError(model string) {
	pm.LLMErrors.WithLabelValues(model).Inc()
}

// SetStreamingClients updates the connected client gauge.
func (pm *PipelineMetrics) SetStreamingClients(n int) {
	pm.StreamingClients.Set(float64(n))
}

// --- Decimal helpers ---

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Global instance for convenience
var defaultMetrics *PipelineMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *PipelineMetrics {
	once.Do(func() {
		defaultMetrics = NewPipelineMetrics()
	})
	return defaultMetrics
}
