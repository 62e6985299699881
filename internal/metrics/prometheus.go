package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tender_run_duration_seconds",
			Help:    "Full evaluation run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_runs_total",
			Help: "Total evaluation runs started",
		},
		[]string{"status"},
	)

	CandidatesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_candidates_evaluated_total",
			Help: "Total candidates evaluated, by final traffic-light status",
		},
		[]string{"status"},
	)

	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_verdicts_total",
			Help: "Total per-requirement verdicts produced",
		},
		[]string{"status"},
	)

	DegradedUnitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tender_degraded_units_total",
			Help: "Evaluation units that fell back to yellow after classifier failure",
		},
	)

	ClassifierDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tender_classifier_duration_seconds",
			Help:    "Single classifier call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tender_confidence_score",
			Help:    "Candidate confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RequirementsExtracted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tender_requirements_extracted",
			Help:    "Requirements extracted per run",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250},
		},
	)

	ChunksPerDocument = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tender_chunks_per_document",
			Help:    "Chunks produced per source document",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	ExtractionTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tender_extraction_truncated_total",
			Help: "Candidate extractions cut short by archive resource limits",
		},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_downloads_total",
			Help: "Total source document downloads",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tender_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(CandidatesEvaluated)
	prometheus.MustRegister(VerdictsTotal)
	prometheus.MustRegister(DegradedUnitsTotal)
	prometheus.MustRegister(ClassifierDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(RequirementsExtracted)
	prometheus.MustRegister(ChunksPerDocument)
	prometheus.MustRegister(ExtractionTruncated)
	prometheus.MustRegister(DownloadsTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
