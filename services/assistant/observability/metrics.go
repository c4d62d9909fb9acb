// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics, tracing, and telemetry export
// for the assistant.
//
// # Description
//
// This package implements Prometheus metrics for monitoring agent
// operations. Metrics include:
//   - Turn counters (by dispatch outcome)
//   - Tool execution counters (by tool and status)
//   - Iteration counters (by phase and resulting status)
//   - Stall and plan adaptation counters
//   - Completion latency histograms and token usage
//   - Active loop gauges
//
// It also owns OpenTelemetry tracer setup, span helpers used across the
// agent packages, and an optional InfluxDB iteration writer.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal
// locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "kodiak"

// Subsystem for agent metrics
const agentSubsystem = "agent"

var (
	// turnsTotal counts orchestrator turns by dispatch outcome.
	// Labels: type (response, tool_call, plan, simulated, error)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "turns_total",
		Help:      "Total orchestrator turns by dispatch outcome",
	}, []string{"type"})

	// toolExecutionsTotal counts tool executions.
	// Labels: tool (registry name), status (success, error)
	toolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "tool_executions_total",
		Help:      "Total tool executions by tool and status",
	}, []string{"tool", "status"})

	// iterationsTotal counts loop iterations.
	// Labels: phase (status entering the iteration), status (status after)
	iterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "iterations_total",
		Help:      "Total loop iterations by entry phase and resulting status",
	}, []string{"phase", "status"})

	// stallsTotal counts stall detector firings.
	stallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "stalls_total",
		Help:      "Total stall detector firings",
	})

	// adaptationsTotal counts plan adaptations from feedback.
	adaptationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "plan_adaptations_total",
		Help:      "Total plan adaptations driven by feedback",
	})

	// activeLoops tracks currently running execution loops.
	activeLoops = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: agentSubsystem,
		Name:      "active_loops",
		Help:      "Number of currently running execution loops",
	})

	// completionSeconds measures completion call latency.
	// Labels: status (success, error)
	completionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "llm",
		Name:      "completion_seconds",
		Help:      "Completion call latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"status"})

	// tokensTotal counts tokens processed by direction and model.
	// Labels: direction (input, output), model
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Total tokens processed by direction and model",
	}, []string{"direction", "model"})
)

// RecordTurn records one orchestrator turn.
//
// Inputs:
//
//	turnType - The dispatch outcome (response, tool_call, plan,
//	           simulated, error).
func RecordTurn(turnType string) {
	turnsTotal.WithLabelValues(turnType).Inc()
}

// RecordToolExecution records one tool execution.
//
// Inputs:
//
//	tool - The registry tool name.
//	status - "success" or "error".
func RecordToolExecution(tool, status string) {
	toolExecutionsTotal.WithLabelValues(tool, status).Inc()
}

// RecordIteration records one loop iteration.
//
// Inputs:
//
//	phase - The status entering the iteration.
//	status - The status after the iteration.
func RecordIteration(phase, status string) {
	iterationsTotal.WithLabelValues(phase, status).Inc()
}

// RecordStall records a stall detector firing.
func RecordStall() {
	stallsTotal.Inc()
}

// RecordAdaptation records a feedback-driven plan adaptation.
func RecordAdaptation() {
	adaptationsTotal.Inc()
}

// TrackLoop marks an execution loop active and returns a release
// function to call when the loop terminates.
func TrackLoop() func() {
	activeLoops.Inc()
	return func() {
		activeLoops.Dec()
	}
}

// ObserveCompletion records one completion call's latency.
//
// Inputs:
//
//	status - "success" or "error".
//	seconds - Call duration in seconds.
func ObserveCompletion(status string, seconds float64) {
	completionSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordTokens records token usage for one completion.
//
// Inputs:
//
//	inputTokens - Number of input tokens.
//	outputTokens - Number of output tokens.
//	model - The model used.
func RecordTokens(inputTokens, outputTokens int, model string) {
	tokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	tokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}
