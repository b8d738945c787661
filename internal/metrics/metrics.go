package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the decision engine.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	ruleMatches        *prometheus.CounterVec
	scorerExclusions   prometheus.Counter
	fallbacks          prometheus.Counter
	cacheOps           *prometheus.CounterVec
	learningEvents     *prometheus.CounterVec
	learningQueueDepth prometheus.Gauge
}

// New registers the engine's instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		evaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelist_engine_evaluations_total",
			Help: "Evaluations by recommendation and cache outcome.",
		}, []string{"recommendation", "cache_hit"}),

		evaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whitelist_engine_evaluation_duration_seconds",
			Help:    "End-to-end evaluation latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ruleMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelist_engine_rule_matches_total",
			Help: "Rule matches by source and short-circuit outcome.",
		}, []string{"source", "short_circuit"}),

		scorerExclusions: factory.NewCounter(prometheus.CounterOpts{
			Name: "whitelist_engine_scorer_exclusions_total",
			Help: "Evaluations where at least one scorer was excluded.",
		}),

		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "whitelist_engine_fallback_results_total",
			Help: "Evaluations that returned the safe fallback result.",
		}),

		cacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelist_engine_cache_operations_total",
			Help: "Cache lookups by key kind and outcome.",
		}, []string{"kind", "hit"}),

		learningEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whitelist_engine_learning_events_total",
			Help: "Feedback events by type and acceptance.",
		}, []string{"event_type", "accepted"}),

		learningQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whitelist_engine_learning_queue_depth",
			Help: "Pending feedback events awaiting processing.",
		}),
	}
}

// ObserveEvaluation records one completed evaluation.
func (m *Metrics) ObserveEvaluation(recommendation string, cacheHit bool, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(recommendation, strconv.FormatBool(cacheHit)).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// ObserveRuleMatch records one matched rule.
func (m *Metrics) ObserveRuleMatch(source string, shortCircuit bool) {
	m.ruleMatches.WithLabelValues(source, strconv.FormatBool(shortCircuit)).Inc()
}

// ObserveScorerExclusion records an evaluation with a degraded ensemble.
func (m *Metrics) ObserveScorerExclusion() {
	m.scorerExclusions.Inc()
}

// ObserveFallback records a safe-fallback evaluation.
func (m *Metrics) ObserveFallback() {
	m.fallbacks.Inc()
}

// ObserveCacheOp records one cache lookup.
func (m *Metrics) ObserveCacheOp(kind string, hit bool) {
	m.cacheOps.WithLabelValues(kind, strconv.FormatBool(hit)).Inc()
}

// ObserveLearningEvent records one feedback submission.
func (m *Metrics) ObserveLearningEvent(eventType string, accepted bool, queueDepth int) {
	m.learningEvents.WithLabelValues(eventType, strconv.FormatBool(accepted)).Inc()
	m.learningQueueDepth.Set(float64(queueDepth))
}
