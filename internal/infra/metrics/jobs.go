package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workerRunsTotal, workerRunDuration) }

var (
	workerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker iterations, labeled by worker and result.",
		},
		[]string{"worker", "result"}, // result: 'ok', 'error', 'skipped'
	)

	workerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_run_duration_seconds",
			Help:    "Duration of one background worker iteration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"worker"},
	)
)

func IncWorkerRun(worker, result string) {
	workerRunsTotal.WithLabelValues(norm(worker), norm(result)).Inc()
}

func ObserveWorkerRun(worker string, seconds float64) {
	workerRunDuration.WithLabelValues(norm(worker)).Observe(seconds)
}
