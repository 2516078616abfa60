// Package metrics holds the Prometheus collectors shared by crewd components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds Prometheus metrics for the orchestrator, the poller and the
// usage ledger.
type Metrics struct {
	// Runs
	RunsStarted       prometheus.Counter
	RunsFinished      *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	PlanFallbacks     *prometheus.CounterVec
	DroppedAgents     prometheus.Counter
	CompensationPosts prometheus.Counter
	MissingHeaders    *prometheus.CounterVec

	// Poller
	PollScans        *prometheus.CounterVec
	PollSkippedQuota prometheus.Counter

	// Usage
	UsageTokens *prometheus.GaugeVec
	UsageCalls  prometheus.Gauge
	UsageOver   prometheus.Gauge

	// Agent engine
	LLMCalls  *prometheus.CounterVec
	ToolCalls *prometheus.CounterVec
}

// Get returns the process-wide metrics, registering them on first use.
//
// Registration happens once so tests and multiple components can call Get
// without "duplicate metrics collector registration" panics.
//
// Metrics:
//   - crewd_runs_started_total
//   - crewd_runs_finished_total{outcome}              ok, failed
//   - crewd_run_duration_seconds{outcome}
//   - crewd_plan_fallbacks_total{reason}              timeout, error, parse, empty
//   - crewd_dropped_agents_total
//   - crewd_compensating_comments_total
//   - crewd_missing_headers_total{agent}
//   - crewd_poll_scans_total{result}                  ok, error
//   - crewd_poll_skipped_quota_total
//   - crewd_usage_tokens{direction}                   input, output
//   - crewd_usage_calls
//   - crewd_usage_over_limit
//   - crewd_llm_calls_total{model,result}
//   - crewd_tool_calls_total{tool,result}
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crewd_runs_started_total",
				Help: "Total number of orchestration runs started",
			}),
			RunsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_runs_finished_total",
				Help: "Total number of orchestration runs finished by outcome",
			}, []string{"outcome"}),
			RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "crewd_run_duration_seconds",
				Help:    "Duration of orchestration runs in seconds",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			}, []string{"outcome"}),
			PlanFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_plan_fallbacks_total",
				Help: "Planning phases that fell back to the default team",
			}, []string{"reason"}),
			DroppedAgents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crewd_dropped_agents_total",
				Help: "Agent ids dropped because they are not registered",
			}),
			CompensationPosts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crewd_compensating_comments_total",
				Help: "Comments posted on behalf of agents that did not comment",
			}),
			MissingHeaders: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_missing_headers_total",
				Help: "Expected agent comment headers missing after a run",
			}, []string{"agent"}),
			PollScans: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_poll_scans_total",
				Help: "Tracker scans performed by the poller",
			}, []string{"result"}),
			PollSkippedQuota: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crewd_poll_skipped_quota_total",
				Help: "Scans cut short because the usage limit was reached",
			}),
			UsageTokens: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "crewd_usage_tokens",
				Help: "Tokens recorded in the usage ledger",
			}, []string{"direction"}),
			UsageCalls: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "crewd_usage_calls",
				Help: "LLM calls recorded in the usage ledger",
			}),
			UsageOver: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "crewd_usage_over_limit",
				Help: "1 when the usage ledger is at or above a limit",
			}),
			LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_llm_calls_total",
				Help: "LLM calls made by agents",
			}, []string{"model", "result"}),
			ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crewd_tool_calls_total",
				Help: "Agent tool invocations",
			}, []string{"tool", "result"}),
		}
	})
	return global
}
