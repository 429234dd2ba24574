// Package metrics provides Prometheus metrics for monitoring dispatcher runs.
package metrics

import (
	"time"

	"github.com/nadmax/sendbatch/internal/result"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sendbatch_commands_dispatched_total",
			Help: "Total number of commands handed to a worker",
		},
	)
	CommandsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendbatch_commands_finished_total",
			Help: "Total number of commands that reached a final state",
		},
		[]string{"state"},
	)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendbatch_attempts_total",
			Help: "Total number of execution attempts by classified outcome",
		},
		[]string{"outcome"},
	)
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sendbatch_retries_total",
			Help: "Total number of retries scheduled after transient failures",
		},
	)
	ProcessInvocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sendbatch_process_invocations_total",
			Help: "Total number of scheduler processes spawned",
		},
	)
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendbatch_attempt_duration_seconds",
			Help:    "Scheduler call duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendbatch_command_duration_seconds",
			Help:    "Command duration including retries and backoff, in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"state"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendbatch_http_requests_total",
			Help: "Total number of status HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendbatch_http_request_duration_seconds",
			Help:    "Status HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sendbatch_queue_depth",
			Help: "Commands still waiting for a worker",
		},
	)
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sendbatch_workers_active",
			Help: "Number of workers currently running a command",
		},
	)
)

func RecordDispatched() {
	CommandsDispatched.Inc()
}

func RecordAttempt(outcome result.Outcome, duration time.Duration) {
	AttemptsTotal.WithLabelValues(string(outcome)).Inc()
	AttemptDuration.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}

func RecordRetry() {
	RetriesTotal.Inc()
}

func RecordProcessInvocation() {
	ProcessInvocations.Inc()
}

func RecordFinished(state result.FinalState, duration time.Duration) {
	CommandsFinished.WithLabelValues(string(state)).Inc()
	CommandDuration.WithLabelValues(string(state)).Observe(duration.Seconds())
}

func UpdateQueueDepth(depth int) {
	QueueDepth.Set(float64(depth))
}

func WorkerStarted() {
	WorkersActive.Inc()
}

func WorkerFinished() {
	WorkersActive.Dec()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
