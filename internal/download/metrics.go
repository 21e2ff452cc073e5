package download

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrunner_download_bytes_total",
			Help: "Total number of bytes written by completed file downloads.",
		},
	)

	downloadsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modelrunner_download_failures_total",
			Help: "Total number of file downloads that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadedBytes)
	prometheus.MustRegister(downloadsFailed)
}
