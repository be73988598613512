package config

import (
	"fmt"
	"time"
)

const (
	// MaxReplanCeiling is the hard upper bound on replans per conversation.
	MaxReplanCeiling     = 3
	DefaultReplanCeiling = 3

	ModeLLM       = "llm"
	ModeRules     = "rules"
	ModeThreshold = "threshold"
	ModeExtract   = "extractive"
)

// AgentConfig tunes the plan/act/evaluate/synthesize loop.
type AgentConfig struct {
	ReplanCeiling      int           `mapstructure:"replan_ceiling"`
	PlannerMode        string        `mapstructure:"planner_mode"`     // llm, rules
	EvaluatorMode      string        `mapstructure:"evaluator_mode"`   // llm, threshold
	SynthesizerMode    string        `mapstructure:"synthesizer_mode"` // llm, extractive
	MinEvidence        int           `mapstructure:"min_evidence"`
	MaxConcurrentRuns  int           `mapstructure:"max_concurrent_runs"`
	PlannerTimeout     time.Duration `mapstructure:"planner_timeout"`
	EvaluatorTimeout   time.Duration `mapstructure:"evaluator_timeout"`
	SynthesizerTimeout time.Duration `mapstructure:"synthesizer_timeout"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout"`
}

// Normalize fills zero timeouts and modes with defaults. The replan ceiling is
// left alone so that an explicit 0 survives.
func (a AgentConfig) Normalize() AgentConfig {
	if a.PlannerMode == "" {
		a.PlannerMode = ModeLLM
	}
	if a.EvaluatorMode == "" {
		a.EvaluatorMode = ModeLLM
	}
	if a.SynthesizerMode == "" {
		a.SynthesizerMode = ModeLLM
	}
	if a.MinEvidence <= 0 {
		a.MinEvidence = 1
	}
	if a.MaxConcurrentRuns <= 0 {
		a.MaxConcurrentRuns = 8
	}
	if a.PlannerTimeout <= 0 {
		a.PlannerTimeout = 30 * time.Second
	}
	if a.EvaluatorTimeout <= 0 {
		a.EvaluatorTimeout = 20 * time.Second
	}
	if a.SynthesizerTimeout <= 0 {
		a.SynthesizerTimeout = 45 * time.Second
	}
	if a.ToolTimeout <= 0 {
		a.ToolTimeout = 15 * time.Second
	}
	return a
}

func (a AgentConfig) Validate() error {
	if a.ReplanCeiling < 0 || a.ReplanCeiling > MaxReplanCeiling {
		return fmt.Errorf("agent.replan_ceiling must be between 0 and %d (got %d)", MaxReplanCeiling, a.ReplanCeiling)
	}
	switch a.PlannerMode {
	case ModeLLM, ModeRules:
	default:
		return fmt.Errorf("agent.planner_mode must be %q or %q (got %q)", ModeLLM, ModeRules, a.PlannerMode)
	}
	switch a.EvaluatorMode {
	case ModeLLM, ModeThreshold:
	default:
		return fmt.Errorf("agent.evaluator_mode must be %q or %q (got %q)", ModeLLM, ModeThreshold, a.EvaluatorMode)
	}
	switch a.SynthesizerMode {
	case ModeLLM, ModeExtract:
	default:
		return fmt.Errorf("agent.synthesizer_mode must be %q or %q (got %q)", ModeLLM, ModeExtract, a.SynthesizerMode)
	}
	return nil
}

// NeedsLLM reports whether any loop component is backed by the model.
func (a AgentConfig) NeedsLLM() bool {
	return a.PlannerMode == ModeLLM || a.EvaluatorMode == ModeLLM || a.SynthesizerMode == ModeLLM
}
