// Package metrics exposes Prometheus instrumentation for the agent loop
// and tool execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed chat turns by outcome
	// (ok, service_unavailable, error).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todochat",
		Name:      "turns_total",
		Help:      "Chat turns processed, by outcome.",
	}, []string{"outcome"})

	// TurnDuration observes end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "todochat",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end chat turn duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// ToolExecutions counts tool invocations by tool name and outcome
	// (ok, validation_error, not_found, error).
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todochat",
		Name:      "tool_executions_total",
		Help:      "Tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// CompletionRetries counts retried completion-provider calls.
	CompletionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todochat",
		Name:      "completion_retries_total",
		Help:      "Completion provider calls that were retried.",
	})

	// RateLimited counts chat requests rejected by the per-user limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "todochat",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by per-user rate limiting.",
	})
)
