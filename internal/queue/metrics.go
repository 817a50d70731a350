package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Task status transitions by type and new status",
		},
		[]string{"type", "status"},
	)

	ignoredTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "queue",
			Name:      "ignored_transitions_total",
			Help:      "Complete/Fail calls on tasks that were not in progress",
		},
		[]string{"from", "to"},
	)

	waitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time between enqueue and claim",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"type"},
	)
)
