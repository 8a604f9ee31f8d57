package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Processor metrics

	TaskClaimLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chrono",
		Name:      "task_claim_latency_seconds",
		Help:      "Time from a task's ScheduledAt to the moment it was claimed.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	TaskExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chrono",
		Name:      "task_execution_duration_seconds",
		Help:      "Duration of a handler invocation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind", "outcome"})

	TasksInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chrono",
		Name:      "tasks_in_flight",
		Help:      "Number of tasks currently being executed, by kind.",
	}, []string{"kind"})

	TasksFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chrono",
		Name:      "tasks_finished_total",
		Help:      "Total tasks that reached a terminal or retry outcome, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Statistics collector metrics, sourced from StatisticsCollector ticks.

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chrono",
		Name:      "queue_depth",
		Help:      "Last sampled queue depth per kind and status.",
	}, []string{"kind", "status"})

	StatisticsCollectionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chrono",
		Name:      "statistics_collection_errors_total",
		Help:      "Total failed statistics collection ticks.",
	})

	// Orchestrator lifecycle

	ChronoStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chrono",
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the orchestrator started.",
	})

	ChronoStopAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chrono",
		Name:      "stop_aborted_total",
		Help:      "Number of times Stop completed with at least one processor failing to shut down cleanly.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chrono",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chrono",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TaskClaimLatency,
		TaskExecutionDuration,
		TasksInFlight,
		TasksFinishedTotal,
		QueueDepth,
		StatisticsCollectionErrorsTotal,
		ChronoStartTime,
		ChronoStopAbortedTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
