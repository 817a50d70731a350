package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations by result.
	// Labels: operation (add, add_unique, search), backend, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "memory",
			Name:      "operations_total",
			Help:      "Memory store operations by backend and result",
		},
		[]string{"operation", "backend", "result"},
	)

	// SearchResults observes how many hits a search returned.
	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "memory",
			Name:      "search_results",
			Help:      "Number of hits returned per search",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// DuplicatesSkipped counts AddUnique calls that found an existing record.
	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "memory",
			Name:      "duplicates_skipped_total",
			Help:      "AddUnique calls that returned an existing record",
		},
	)
)
