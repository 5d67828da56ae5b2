// Package metrics provides Prometheus metrics export for the memory engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports memory engine metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Isolation violations are a storage-layer defect indicator, never a
	// normal operational event. Alert on any non-zero rate.
	isolationViolations prometheus.Counter

	// Fallback counters
	extractionFallbacks prometheus.Counter
	retrievalFallbacks  prometheus.Counter

	// Turn pipeline
	turnsRecorded  prometheus.Counter
	factsUpserted  *prometheus.CounterVec
	contextBuilds  prometheus.Counter
	contextTrunc   prometheus.Counter
	retrievalKHist prometheus.Histogram

	// Consolidation
	consolidationRuns   *prometheus.CounterVec
	consolidationGroups *prometheus.CounterVec

	// LLM usage
	llmCalls   *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// New creates a new metrics exporter backed by its own registry.
func New() *Exporter {
	registry := prometheus.NewRegistry()

	e := &Exporter{
		registry: registry,
		isolationViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_isolation_violations_total",
			Help: "Results dropped because the stored owner did not match the requested owner.",
		}),
		extractionFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_extraction_fallbacks_total",
			Help: "Fact extractions that fell back to rule-based patterns.",
		}),
		retrievalFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_retrieval_fallbacks_total",
			Help: "Retrievals that fell back to keyword search.",
		}),
		turnsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_turns_recorded_total",
			Help: "Conversational turns stored in the memory index.",
		}),
		factsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lembra_facts_upserted_total",
			Help: "Fact upserts by extraction method.",
		}, []string{"method"}),
		contextBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_context_builds_total",
			Help: "Context payloads assembled.",
		}),
		contextTrunc: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lembra_context_truncations_total",
			Help: "Context payloads that exceeded the budget and were truncated.",
		}),
		retrievalKHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lembra_retrieval_adaptive_k",
			Help:    "Adaptive k values computed for retrievals.",
			Buckets: []float64{3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		}),
		consolidationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lembra_consolidation_runs_total",
			Help: "Per-owner consolidation runs by outcome.",
		}, []string{"outcome"}),
		consolidationGroups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lembra_consolidation_groups_total",
			Help: "Topic groups processed by consolidation, by outcome.",
		}, []string{"outcome"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lembra_llm_calls_total",
			Help: "LLM completion calls by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lembra_llm_latency_seconds",
			Help:    "LLM completion latency by purpose.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"purpose"}),
	}

	registry.MustRegister(
		e.isolationViolations,
		e.extractionFallbacks,
		e.retrievalFallbacks,
		e.turnsRecorded,
		e.factsUpserted,
		e.contextBuilds,
		e.contextTrunc,
		e.retrievalKHist,
		e.consolidationRuns,
		e.consolidationGroups,
		e.llmCalls,
		e.llmLatency,
	)

	return e
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) IsolationViolation()         { e.isolationViolations.Inc() }
func (e *Exporter) ExtractionFallback()         { e.extractionFallbacks.Inc() }
func (e *Exporter) RetrievalFallback()          { e.retrievalFallbacks.Inc() }
func (e *Exporter) TurnRecorded()               { e.turnsRecorded.Inc() }
func (e *Exporter) FactUpserted(method string)  { e.factsUpserted.WithLabelValues(method).Inc() }
func (e *Exporter) ContextBuilt()               { e.contextBuilds.Inc() }
func (e *Exporter) ContextTruncated()           { e.contextTrunc.Inc() }
func (e *Exporter) ObserveAdaptiveK(k int)      { e.retrievalKHist.Observe(float64(k)) }
func (e *Exporter) ConsolidationRun(outcome string) {
	e.consolidationRuns.WithLabelValues(outcome).Inc()
}
func (e *Exporter) ConsolidationGroup(outcome string) {
	e.consolidationGroups.WithLabelValues(outcome).Inc()
}
func (e *Exporter) LLMCall(purpose, outcome string, seconds float64) {
	e.llmCalls.WithLabelValues(purpose, outcome).Inc()
	e.llmLatency.WithLabelValues(purpose).Observe(seconds)
}

// Nop returns an exporter that records into a throwaway registry.
// Useful for tests and for callers that do not scrape metrics.
func Nop() *Exporter {
	return New()
}
