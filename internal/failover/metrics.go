package failover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	degradedGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductor",
			Subsystem: "backend",
			Name:      "degraded",
			Help:      "1 when the component is serving from its secondary backend",
		},
		[]string{"component"},
	)

	failoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "backend",
			Name:      "failovers_total",
			Help:      "Primary to secondary switches",
		},
		[]string{"component"},
	)

	primaryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "backend",
			Name:      "primary_errors_total",
			Help:      "Primary backend errors by operation",
		},
		[]string{"component", "operation"},
	)
)
