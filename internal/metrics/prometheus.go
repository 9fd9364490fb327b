package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civic-sage/backend/pkg/circuitbreaker"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civic_sage_turn_duration_seconds",
			Help:    "Dialogue turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"route"},
	)

	TurnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_turn_total",
			Help: "Dialogue turns by route and status",
		},
		[]string{"route", "status"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civic_sage_retrieval_results_count",
			Help:    "Knowledge-base passages returned per retrieval",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	DegradedStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_degraded_stage_total",
			Help: "Pipeline stages that fell back after an upstream failure",
		},
		[]string{"stage"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	WebSearchTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civic_sage_web_search_triggered_total",
			Help: "Total number of web searches performed by the web tool",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "civic_sage_sessions_active",
			Help: "Sessions currently open",
		},
	)

	SessionsAnalysed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_sessions_analysed_total",
			Help: "Ended sessions by analysis outcome",
		},
		[]string{"outcome"},
	)

	ReportsFiled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civic_sage_reports_filed_total",
			Help: "Assistant replies reported as mistaken",
		},
	)

	AggregationTables = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_aggregation_tables_total",
			Help: "Monthly chart tables built",
		},
		[]string{"table", "status"},
	)

	MalformedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_malformed_records_total",
			Help: "Records skipped by an aggregation metric",
		},
		[]string{"table"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civic_sage_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	UpstreamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "civic_sage_upstream_breaker_state",
			Help: "Circuit breaker state per upstream (0 closed, 1 half-open, 2 open)",
		},
		[]string{"upstream"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "civic_sage_documents_processed_total",
			Help: "Knowledge-base documents ingested",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		TurnDuration,
		TurnTotal,
		RetrievalResults,
		DegradedStages,
		LLMTokensUsed,
		WebSearchTriggered,
		SessionsActive,
		SessionsAnalysed,
		ReportsFiled,
		AggregationTables,
		MalformedRecords,
		CacheHits,
		CacheMisses,
		DocumentsProcessed,
		UpstreamState,
	)
}

// BreakerStateChanged is a circuitbreaker.Config.OnStateChange hook.
func BreakerStateChanged(name string, _, to circuitbreaker.State) {
	UpstreamState.WithLabelValues(name).Set(float64(to))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
