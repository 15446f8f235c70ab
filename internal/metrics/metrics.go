package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventshift_events_read_total",
		Help: "Total number of events read from the source export.",
	})

	EventsKept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventshift_events_kept_total",
		Help: "Total number of events that survived transformation.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventshift_events_dropped_total",
		Help: "Total number of events dropped, labelled by reason.",
	}, []string{"reason"})

	EventsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventshift_events_sent_total",
		Help: "Total number of events delivered to the destination.",
	})

	BatchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventshift_batches_sent_total",
		Help: "Total number of batches delivered to the destination.",
	})

	SendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventshift_send_retries_total",
		Help: "Total number of batch delivery retries.",
	})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventshift_batch_send_duration_ms",
		Help:    "Batch delivery latency in milliseconds, including retries.",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
)
