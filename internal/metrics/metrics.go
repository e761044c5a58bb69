package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
)

var (
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchbot_tasks_submitted_total",
			Help: "Tasks accepted into a queue",
		},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbot_tasks_completed_total",
			Help: "Tasks that reached a terminal state",
		},
		[]string{"outcome"}, // done, failed
	)

	TaskFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbot_task_failures_total",
			Help: "Failed tasks by pipeline stage",
		},
		[]string{"kind"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetchbot_task_duration_seconds",
			Help:    "Wall time from admission to terminal state",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbot_deliveries_total",
			Help: "Delivery outcomes by method (direct, backend name, or none)",
		},
		[]string{"method"},
	)

	ProgressUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchbot_progress_updates_total",
			Help: "Progress reporter activity",
		},
		[]string{"result"}, // sent, dropped
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbot_queue_depth",
			Help: "Queued tasks across all owners",
		},
	)

	queueOwners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbot_queue_owners",
			Help: "Owners with at least one queued task",
		},
	)

	poolActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbot_pool_active_slots",
			Help: "Admission pool slots currently held",
		},
	)

	poolCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fetchbot_pool_capacity",
			Help: "Admission pool size",
		},
	)
)

func init() {
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TaskFailures)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(Deliveries)
	prometheus.MustRegister(ProgressUpdates)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueOwners)
	prometheus.MustRegister(poolActive)
	prometheus.MustRegister(poolCapacity)
}

// QueueStats is a point-in-time snapshot of the scheduler for the polled
// gauges.
type QueueStats struct {
	Owners      int
	QueuedTasks int
	ActiveSlots int
	Capacity    int
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func StartMetricsServer(cfg *config.Config, stats func() QueueStats, logger *zap.Logger) {
	// Update metrics periodically
	go updateMetrics(stats, logger)

	// Create a new HTTP mux for metrics to avoid conflicts
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

func updateMetrics(stats func() QueueStats, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		st := stats()
		queueDepth.Set(float64(st.QueuedTasks))
		queueOwners.Set(float64(st.Owners))
		poolActive.Set(float64(st.ActiveSlots))
		poolCapacity.Set(float64(st.Capacity))
	}
}
