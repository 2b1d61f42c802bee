package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	tasksScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "tasks_scheduled_total",
			Help:      "Tasks enqueued by type group.",
		},
		[]string{"type_group"},
	)

	tasksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "tasks_processed_total",
			Help:      "Task executions finished by terminal status.",
		},
		[]string{"status"},
	)

	tasksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "tasks_skipped_total",
			Help:      "Tasks skipped because no executor is registered.",
		},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "storesync",
			Name:      "drain_duration_seconds",
			Help:      "Wall-clock time of one drain pass.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		},
	)

	purgeRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "purge_removed_total",
			Help:      "Rows removed by the retention policy, per table.",
		},
		[]string{"table"},
	)

	webhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storesync",
			Name:      "webhooks_received_total",
			Help:      "Inbound webhook calls by action.",
		},
		[]string{"action"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			tasksScheduled,
			tasksProcessed,
			tasksSkipped,
			drainDuration,
			purgeRemoved,
			webhooksReceived,
		)
	})
}

// IncScheduled counts an enqueued task.
func IncScheduled(typeGroup string) {
	tasksScheduled.WithLabelValues(typeGroup).Inc()
}

// IncProcessed counts an execution that reached a terminal status.
func IncProcessed(status string) {
	tasksProcessed.WithLabelValues(status).Inc()
}

// IncSkipped counts a task left in place for lack of an executor.
func IncSkipped() {
	tasksSkipped.Inc()
}

// ObserveDrain records the duration of a finished drain pass.
func ObserveDrain(seconds float64) {
	drainDuration.Observe(seconds)
}

// AddPurged counts rows removed from a table by the purge policy.
func AddPurged(table string, rows int64) {
	purgeRemoved.WithLabelValues(table).Add(float64(rows))
}

// IncWebhook counts an inbound webhook call.
func IncWebhook(action string) {
	webhooksReceived.WithLabelValues(action).Inc()
}
