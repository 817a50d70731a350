package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Workflow runs by final status",
		},
		[]string{"status"},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Executed steps by kind and state",
		},
		[]string{"kind", "state"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Step execution time",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)
