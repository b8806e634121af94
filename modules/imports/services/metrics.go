package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type importerMetrics struct {
	rowsTotal          *prometheus.CounterVec
	directoryCalls     *prometheus.CounterVec
	invocationDuration prometheus.Histogram
	invocationsTotal   *prometheus.CounterVec
}

var importerMetricsSingleton = sync.OnceValue(func() *importerMetrics {
	return &importerMetrics{
		rowsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "rows_total",
			Help:      "Total number of rows processed, by outcome.",
		}, []string{"outcome"}),
		directoryCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "directory_calls_total",
			Help:      "Total number of directory resolutions, by result.",
		}, []string{"result"}),
		invocationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "importer",
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of one scheduler invocation.",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5,
				1, 2, 5, 10, 30, 60,
			},
		}),
		invocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "importer",
			Name:      "invocations_total",
			Help:      "Total scheduler invocations, by result.",
		}, []string{"result"}),
	}
})

func getImporterMetrics() *importerMetrics {
	return importerMetricsSingleton()
}

func (m *importerMetrics) observeRow(outcome rowOutcome) {
	switch outcome {
	case outcomeOK:
		m.rowsTotal.WithLabelValues("ok").Inc()
	case outcomeFailed:
		m.rowsTotal.WithLabelValues("failed").Inc()
	case outcomeSkipped:
		m.rowsTotal.WithLabelValues("skipped").Inc()
	}
}
