// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	schedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		},
	)

	schedulesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_schedules_dispatched_total",
			Help: "Total number of schedule executions dispatched to workers",
		},
	)

	dispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_dispatch_failures_total",
			Help: "Total number of failed execution submissions",
		},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_executions_total",
			Help: "Total number of completed executions by terminal state",
		},
		[]string{"state"},
	)

	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_execution_duration_seconds",
			Help:    "Execution latency in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_notifications_total",
			Help: "Total number of notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	logsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kestrel_execution_logs_pruned_total",
			Help: "Total number of execution log rows pruned",
		},
	)

	workerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kestrel_worker_queue_depth",
			Help: "Number of executions waiting in the worker queue",
		},
	)
)

// RecordTick increments the scheduler tick counter.
func RecordTick() {
	schedulerTicks.Inc()
}

// RecordDispatch increments the dispatched-executions counter.
func RecordDispatch() {
	schedulesDispatched.Inc()
}

// RecordDispatchFailure increments the failed-submissions counter.
func RecordDispatchFailure() {
	dispatchFailures.Inc()
}

// RecordExecution records one completed execution.
func RecordExecution(state string, duration time.Duration) {
	executionsTotal.WithLabelValues(state).Inc()
	executionDuration.Observe(duration.Seconds())
}

// RecordNotification records one delivery attempt.
func RecordNotification(channel string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// RecordLogsPruned adds to the pruned-rows counter.
func RecordLogsPruned(n int64) {
	if n > 0 {
		logsPruned.Add(float64(n))
	}
}

// SetQueueDepth sets the worker queue depth gauge.
func SetQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}

// Server serves the Prometheus scrape endpoint.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("address", s.srv.Addr).Msg("Metrics server started")
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
