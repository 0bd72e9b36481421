// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/finalyze/analysis-runtime/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	runsTotalCounter             *prometheus.CounterVec
	stagesTotalCounter           *prometheus.CounterVec
	stageExecutionDurationMetric prometheus.Histogram
	stageRetriesCounter          prometheus.Counter
	toolCallsCounter             *prometheus.CounterVec
	toolCallDurationMetric       *prometheus.HistogramVec
	breakerOpensCounter          *prometheus.CounterVec
	reasoningRetriesCounter      prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		runsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runs_total",
				Help: "Total number of run status transitions by status.",
			},
			[]string{"status"},
		)

		stagesTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stages_total",
				Help: "Total number of stage terminal updates by status.",
			},
			[]string{"status"},
		)

		stageExecutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stage_execution_duration_seconds",
				Help:    "Duration of stage executor calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		stageRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stage_retries_total",
				Help: "Total number of retried stage attempts.",
			},
		)

		toolCallsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool protocol calls by service and outcome.",
			},
			[]string{"service", "outcome"},
		)

		toolCallDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_call_duration_seconds",
				Help:    "Duration of tool protocol round trips in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		)

		breakerOpensCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circuit_breaker_opens_total",
				Help: "Total number of circuit breaker open transitions by service.",
			},
			[]string{"service"},
		)

		reasoningRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reasoning_corrective_retries_total",
				Help: "Total number of corrective retries after malformed reasoning output.",
			},
		)

		prometheus.MustRegister(
			runsTotalCounter,
			stagesTotalCounter,
			stageExecutionDurationMetric,
			stageRetriesCounter,
			toolCallsCounter,
			toolCallDurationMetric,
			breakerOpensCounter,
			reasoningRetriesCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RunStatus{
			domain.RunPending,
			domain.RunRunning,
			domain.RunDegraded,
			domain.RunCompleted,
			domain.RunFailed,
			domain.RunCancelled,
		} {
			runsTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.StageStatus{
			domain.StageWaiting,
			domain.StageReady,
			domain.StageRunning,
			domain.StageSucceeded,
			domain.StageFailed,
			domain.StageSkipped,
		} {
			stagesTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncRunStatus(status string) {
	Init()
	runsTotalCounter.WithLabelValues(status).Inc()
}

func IncStageStatus(status string) {
	Init()
	stagesTotalCounter.WithLabelValues(status).Inc()
}

func ObserveStageExecutionDuration(d time.Duration) {
	Init()
	stageExecutionDurationMetric.Observe(d.Seconds())
}

func IncStageRetries() {
	Init()
	stageRetriesCounter.Inc()
}

func IncToolCall(service, outcome string) {
	Init()
	toolCallsCounter.WithLabelValues(service, outcome).Inc()
}

func ObserveToolCallDuration(service string, d time.Duration) {
	Init()
	toolCallDurationMetric.WithLabelValues(service).Observe(d.Seconds())
}

func IncBreakerOpen(service string) {
	Init()
	breakerOpensCounter.WithLabelValues(service).Inc()
}

func IncReasoningRetries() {
	Init()
	reasoningRetriesCounter.Inc()
}
