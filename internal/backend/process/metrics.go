package process

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for request status.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusKilled    = "killed"
)

var requestTypes = []string{ReqLoad, ReqRun, ReqUnload, ReqClose}

var (
	processStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modelrunner_process_start_seconds",
			Help:    "Duration from adapter process start to hello frame, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrunner_process_active",
			Help: "Number of currently running adapter processes.",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrunner_process_request_seconds",
			Help:    "Time from request frame sent to result frame received, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrunner_process_requests_total",
			Help: "Total number of requests sent to adapter processes.",
		},
		[]string{"type", "status"},
	)
)

func init() {
	prometheus.MustRegister(processStartDuration)
	prometheus.MustRegister(activeProcesses)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(requestsTotal)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	for _, typ := range requestTypes {
		requestsTotal.WithLabelValues(typ, statusCompleted)
		requestsTotal.WithLabelValues(typ, statusFailed)
		requestsTotal.WithLabelValues(typ, statusKilled)
	}
}
