package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Tasks handled by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Handler duration by task type",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		},
		[]string{"type"},
	)
)
