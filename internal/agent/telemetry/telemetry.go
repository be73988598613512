package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "finbreaker"

// Telemetry records loop metrics to prometheus and keeps an in-process
// snapshot for status endpoints and tests. A nil *Telemetry is a no-op.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	plannerCall *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	tools       *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	mu      sync.RWMutex
	metrics Metrics
}

// Metrics is a point-in-time copy of the counters.
type Metrics struct {
	TotalRuns      int64            `json:"total_runs"`
	FailedRuns     int64            `json:"failed_runs"`
	RunsByOutcome  map[string]int64 `json:"runs_by_outcome"`
	PlannerCalls   int64            `json:"planner_calls"`
	ToolExecutions map[string]int64 `json:"tool_executions"`
	ToolFailures   map[string]int64 `json:"tool_failures"`
}

// NewTelemetry registers collectors on reg. Pass nil to skip prometheus
// registration entirely (tests, one-shot CLI runs).
func NewTelemetry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			RunsByOutcome:  make(map[string]int64),
			ToolExecutions: make(map[string]int64),
			ToolFailures:   make(map[string]int64),
		},
	}
	if reg == nil || !cfg.MetricsEnabled {
		return t
	}
	f := promauto.With(reg)
	t.runs = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "runs_total",
		Help: "Orchestration runs by terminal outcome (or error).",
	}, []string{"outcome"})
	t.runDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "run_duration_seconds",
		Help:    "Wall time of orchestration runs.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"outcome"})
	t.plannerCall = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "planner_calls_total",
		Help: "Planner backend invocations by status.",
	}, []string{"status"})
	t.steps = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "step_duration_seconds",
		Help:    "Duration of individual loop steps.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase", "status"})
	t.tools = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "tool_executions_total",
		Help: "Tool invocations by tool and status.",
	}, []string{"tool", "status"})
	t.toolLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "tool_duration_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
	return t
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// RecordRun counts one finished run. outcome is empty for failed runs.
func (t *Telemetry) RecordRun(outcome string, d time.Duration) {
	if t == nil {
		return
	}
	label := outcome
	if label == "" {
		label = "error"
	}
	t.mu.Lock()
	t.metrics.TotalRuns++
	if outcome == "" {
		t.metrics.FailedRuns++
	} else {
		t.metrics.RunsByOutcome[outcome]++
	}
	t.mu.Unlock()
	if t.runs != nil {
		t.runs.WithLabelValues(label).Inc()
		t.runDuration.WithLabelValues(label).Observe(d.Seconds())
	}
}

func (t *Telemetry) RecordPlannerCall(failed bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.PlannerCalls++
	t.mu.Unlock()
	if t.plannerCall != nil {
		t.plannerCall.WithLabelValues(status(failed)).Inc()
	}
}

func (t *Telemetry) RecordStep(phase string, d time.Duration, failed bool) {
	if t == nil || t.steps == nil {
		return
	}
	t.steps.WithLabelValues(phase, status(failed)).Observe(d.Seconds())
}

func (t *Telemetry) RecordTool(tool string, failed bool, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.metrics.ToolExecutions[tool]++
	if failed {
		t.metrics.ToolFailures[tool]++
	}
	t.mu.Unlock()
	if t.tools != nil {
		t.tools.WithLabelValues(tool, status(failed)).Inc()
		t.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// GetMetrics returns a copy of the current counters.
func (t *Telemetry) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Metrics{
		TotalRuns:      t.metrics.TotalRuns,
		FailedRuns:     t.metrics.FailedRuns,
		PlannerCalls:   t.metrics.PlannerCalls,
		RunsByOutcome:  make(map[string]int64, len(t.metrics.RunsByOutcome)),
		ToolExecutions: make(map[string]int64, len(t.metrics.ToolExecutions)),
		ToolFailures:   make(map[string]int64, len(t.metrics.ToolFailures)),
	}
	for k, v := range t.metrics.RunsByOutcome {
		out.RunsByOutcome[k] = v
	}
	for k, v := range t.metrics.ToolExecutions {
		out.ToolExecutions[k] = v
	}
	for k, v := range t.metrics.ToolFailures {
		out.ToolFailures[k] = v
	}
	return out
}

// Shutdown logs a final summary.
func (t *Telemetry) Shutdown() {
	if t == nil {
		return
	}
	m := t.GetMetrics()
	t.logger.Printf("Final Report: runs=%d failed=%d planner_calls=%d", m.TotalRuns, m.FailedRuns, m.PlannerCalls)
	for outcome, n := range m.RunsByOutcome {
		t.logger.Printf("  outcome %s: %d", outcome, n)
	}
}
