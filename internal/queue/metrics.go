package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Number of notifications buffered for offline recipients",
		},
	)

	MessagesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_queue_enqueued_total",
			Help: "Total number of notifications buffered",
		},
	)

	MessagesRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_queue_removed_total",
			Help: "Total number of notifications removed from the buffer by reason",
		},
		[]string{"reason"}, // flushed, cleared, evicted
	)

	MessagesRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_queue_rejected_total",
			Help: "Total number of notifications rejected because a buffer was full",
		},
	)
)
