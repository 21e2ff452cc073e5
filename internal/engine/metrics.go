package engine

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for run status.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusRejected  = "rejected"
)

var (
	engineLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrunner_engine_load_seconds",
			Help:    "Time to load an engine adapter into a new context, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	engineLoadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrunner_engine_load_failures_total",
			Help: "Total number of failed engine loads.",
		},
	)

	activeContexts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrunner_engine_contexts",
			Help: "Number of engine contexts currently loaded.",
		},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrunner_inference_seconds",
			Help:    "Time spent in the backend per inference call, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"framework"},
	)

	inferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrunner_inference_total",
			Help: "Total number of inference calls by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(engineLoadDuration)
	prometheus.MustRegister(engineLoadFailures)
	prometheus.MustRegister(activeContexts)
	prometheus.MustRegister(inferenceDuration)
	prometheus.MustRegister(inferenceTotal)

	for _, status := range []string{statusCompleted, statusFailed, statusRejected} {
		inferenceTotal.WithLabelValues(status)
	}
}
