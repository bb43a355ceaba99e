// Package metrics exposes the orchestrator's Prometheus instrumentation as
// package-level collectors registered with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_workflows_started_total",
			Help: "Total number of workflow executions started",
		},
	)

	WorkflowsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semflow_workflows_completed_total",
			Help: "Total number of workflow executions reaching a terminal status",
		},
		[]string{"status"},
	)

	WorkflowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semflow_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Task metrics
	TasksDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_tasks_dispatched_total",
			Help: "Total number of tasks handed to the agent pipeline",
		},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semflow_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semflow_task_duration_seconds",
			Help:    "Task dispatch duration in seconds, across all attempts",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
	)

	TaskTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semflow_task_tokens_total",
			Help:    "Tokens consumed per task (input + output)",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	// QC metrics
	QCAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_qc_attempts_total",
			Help: "Total number of QC verification calls",
		},
	)

	QCVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semflow_qc_verdicts_total",
			Help: "QC verdicts by outcome (pass, fail)",
		},
		[]string{"outcome"},
	)

	// Artifact metrics
	ArtifactsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_artifacts_captured_total",
			Help: "Total number of artifacts captured from worker output",
		},
	)

	ArtifactBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_artifact_bytes_total",
			Help: "Total artifact bytes captured",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_events_published_total",
			Help: "Total number of events published on the bus",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_events_dropped_total",
			Help: "Total number of events dropped on slow subscriptions",
		},
	)

	// Persistence metrics
	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "semflow_persist_errors_total",
			Help: "Total number of failed graph persistence calls",
		},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semflow_llm_requests_total",
			Help: "Total number of LLM endpoint calls by outcome",
		},
		[]string{"provider", "outcome"},
	)
)
