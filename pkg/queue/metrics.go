package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	deadTotal     *prometheus.CounterVec

	dispatchLatency *prometheus.HistogramVec

	pending     prometheus.Gauge
	locked      prometheus.Gauge
	relayLeader prometheus.Gauge
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "enqueue_total",
			Help:      "Total number of queue enqueue operations.",
		}, []string{"topic"}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dispatch_total",
			Help:      "Total number of queue dispatch operations.",
		}, []string{"topic", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dead_total",
			Help:      "Total number of messages that first entered dead state.",
		}, []string{"topic"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for queue dispatch.",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.05,
				0.1, 0.5, 1, 2, 5, 10, 30, 60,
			},
		}, []string{"topic", "result"}),
		pending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "pending",
			Help:      "Current number of pending (unpublished) messages.",
		}),
		locked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "locked",
			Help:      "Current number of locked (unpublished) messages.",
		}),
		relayLeader: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "queue",
			Name:      "relay_leader",
			Help:      "Whether current instance holds the relay leader lock (1/0).",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
