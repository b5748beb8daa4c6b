package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research request metrics
	ResearchStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_research_started_total",
			Help: "Total number of research requests started",
		},
		[]string{"tier"},
	)

	ResearchCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_research_completed_total",
			Help: "Total number of research requests completed",
		},
		[]string{"tier", "status"},
	)

	ResearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humboldt_research_duration_seconds",
			Help:    "Research request duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tier"},
	)

	ResearchRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "humboldt_research_rounds",
			Help:    "Fetch rounds completed per research request",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	RequestsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "humboldt_requests_submitted_total",
			Help: "Total number of research requests accepted over HTTP",
		},
	)

	// Provider metrics
	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_provider_fetches_total",
			Help: "Total number of provider fetch attempts",
		},
		[]string{"provider", "status"},
	)

	ProviderFetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humboldt_provider_fetch_latency_seconds",
			Help:    "Provider fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "humboldt_provider_circuit_state",
			Help: "Provider circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// Source set metrics
	SourcesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_sources_fetched_total",
			Help: "Total number of sources returned by providers",
		},
		[]string{"provider"},
	)

	DuplicateSources = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "humboldt_duplicate_sources_total",
			Help: "Total number of fetched sources dropped as duplicates",
		},
	)

	SourcesSelected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "humboldt_sources_selected",
			Help:    "Sources selected for synthesis per request",
			Buckets: []float64{0, 2, 5, 8, 10, 15, 20},
		},
	)

	// Model call metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_model_calls_total",
			Help: "Total number of model service calls",
		},
		[]string{"operation", "status"},
	)

	ModelCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "humboldt_model_call_latency_seconds",
			Help:    "Model service call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	ModelTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "humboldt_model_tokens_used",
			Help:    "Tokens used per research request",
			Buckets: []float64{100, 500, 1000, 2500, 5000, 10000, 25000},
		},
	)

	// Streaming metrics
	StreamEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_stream_events_total",
			Help: "Total number of events published per kind",
		},
		[]string{"kind"},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "humboldt_stream_subscribers",
			Help: "Number of connected stream subscribers",
		},
	)

	// Persistence metrics
	ReportWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humboldt_report_writes_total",
			Help: "Total number of research report persistence attempts",
		},
		[]string{"status"},
	)
)

// RecordResearchMetrics records metrics for a finished research request.
func RecordResearchMetrics(tier, status string, durationSeconds float64, rounds, tokensUsed int) {
	ResearchCompleted.WithLabelValues(tier, status).Inc()
	ResearchDuration.WithLabelValues(tier).Observe(durationSeconds)
	ResearchRounds.Observe(float64(rounds))
	if tokensUsed > 0 {
		ModelTokensUsed.Observe(float64(tokensUsed))
	}
}

// RecordProviderFetch records one provider fetch attempt.
func RecordProviderFetch(provider, status string, durationSeconds float64, sources int) {
	ProviderFetches.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		ProviderFetchLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
	if sources > 0 {
		SourcesFetched.WithLabelValues(provider).Add(float64(sources))
	}
}

// RecordModelCall records one call to the model service.
func RecordModelCall(operation, status string, durationSeconds float64) {
	ModelCalls.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		ModelCallLatency.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordStreamEvent counts one published event.
func RecordStreamEvent(kind string) {
	StreamEvents.WithLabelValues(kind).Inc()
}

// RecordMergeStats records dedupe outcomes for one round.
func RecordMergeStats(duplicates int) {
	if duplicates > 0 {
		DuplicateSources.Add(float64(duplicates))
	}
}

// RecordSelection records the selected source count for one request.
func RecordSelection(count int) {
	SourcesSelected.Observe(float64(count))
}

// RecordCircuitState records a provider breaker transition.
func RecordCircuitState(provider string, state int) {
	ProviderCircuitState.WithLabelValues(provider).Set(float64(state))
}

// RecordReportWrite records a persistence attempt outcome.
func RecordReportWrite(status string) {
	ReportWrites.WithLabelValues(status).Inc()
}
