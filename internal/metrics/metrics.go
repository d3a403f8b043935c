package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	operationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daymark",
			Name:      "sync_operations_enqueued_total",
			Help:      "Operations written to the durable queue.",
		},
		[]string{"entity"},
	)

	operationsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daymark",
			Name:      "sync_operations_processed_total",
			Help:      "Drain outcomes by result (synced, retried, abandoned).",
		},
		[]string{"result"},
	)

	transportRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daymark",
			Name:      "transport_retries_total",
			Help:      "HTTP attempts repeated after a retryable failure.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "daymark",
			Name:      "sync_queue_depth",
			Help:      "Operations currently pending or awaiting retry.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(operationsEnqueued, operationsProcessed, transportRetries, queueDepth)
	})
}

// IncEnqueued counts a queue write for an entity type.
func IncEnqueued(entity string) {
	operationsEnqueued.WithLabelValues(entity).Inc()
}

// IncProcessed counts a drain outcome.
func IncProcessed(result string) {
	operationsProcessed.WithLabelValues(result).Inc()
}

// IncTransportRetry counts one repeated HTTP attempt.
func IncTransportRetry() {
	transportRetries.Inc()
}

// SetQueueDepth records the current pending backlog size.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
