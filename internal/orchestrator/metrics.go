package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "steps_total",
			Help:      "Plan steps by agent kind and outcome (executed, failed, skipped)",
		},
		[]string{"agent", "outcome"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (invoked, cached, failed, condition_false)",
		},
		[]string{"tool", "outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Orchestrate call duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	agentTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "orchestrator",
			Name:      "agent_tokens_total",
			Help:      "LLM tokens used by agents, by kind and direction",
		},
		[]string{"agent", "direction"},
	)
)
