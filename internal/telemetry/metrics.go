package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "batch_runs_started_total", Help: "Batch runs started"}, []string{"kind"})
	RunsFinished    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "batch_runs_finished_total", Help: "Batch runs finished by final state"}, []string{"kind", "state"})
	RunsRejected    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "batch_runs_rejected_total", Help: "Triggers rejected because a run was active"}, []string{"kind"})
	ItemsProcessed  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "batch_items_total", Help: "Processed items by outcome"}, []string{"kind", "status"})
	AttemptsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "remote_call_attempts_total", Help: "Remote call attempts by result"}, []string{"kind", "result"})
	RateLimitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rate_limit_errors_total", Help: "Rate limiter errors that let a call through"}, []string{"kind"})
	InFlightGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "batch_items_inflight", Help: "Items currently being processed"}, []string{"kind"})
	RunDuration     = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "batch_run_duration_seconds", Help: "Wall time of batch runs", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)}, []string{"kind"})
	CallDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "remote_call_duration_seconds", Help: "Latency of remote AI calls", Buckets: prometheus.DefBuckets}, []string{"kind"})
	SinkWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sink_write_errors_total", Help: "Outcomes converted to failures by sink errors"}, []string{"kind"})
)

// Register adds all collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsFinished,
			RunsRejected,
			ItemsProcessed,
			AttemptsTotal,
			RateLimitErrors,
			InFlightGauge,
			RunDuration,
			CallDuration,
			SinkWriteErrors,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
