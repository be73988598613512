package core

import (
	"fmt"
	"log"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/telemetry"
	"github.com/into-the-night/fin-breaker/internal/capability"
)

// NewPlanBackend picks the planner implementation named by cfg.Agent.PlannerMode.
func NewPlanBackend(cfg *config.Config, llm LLMProvider) (PlanBackend, error) {
	switch cfg.Agent.PlannerMode {
	case config.ModeRules:
		return NewRulePlanner(), nil
	case config.ModeLLM:
		if llm == nil {
			return nil, fmt.Errorf("llm planner requires an LLM provider")
		}
		return NewLLMPlanner(llm, cfg.LLM.PlanningModel, nil), nil
	}
	return nil, fmt.Errorf("unsupported planner mode: %s", cfg.Agent.PlannerMode)
}

func NewJudgeBackend(cfg *config.Config, llm LLMProvider) (JudgeBackend, error) {
	switch cfg.Agent.EvaluatorMode {
	case config.ModeThreshold:
		return NewThresholdEvaluator(cfg.Agent.MinEvidence), nil
	case config.ModeLLM:
		if llm == nil {
			return nil, fmt.Errorf("llm evaluator requires an LLM provider")
		}
		return NewLLMEvaluator(llm, cfg.LLM.EvaluationModel), nil
	}
	return nil, fmt.Errorf("unsupported evaluator mode: %s", cfg.Agent.EvaluatorMode)
}

func NewSynthesisBackend(cfg *config.Config, llm LLMProvider) (SynthesisBackend, error) {
	switch cfg.Agent.SynthesizerMode {
	case config.ModeExtract:
		return NewExtractiveSynthesizer(), nil
	case config.ModeLLM:
		if llm == nil {
			return nil, fmt.Errorf("llm synthesizer requires an LLM provider")
		}
		return NewLLMSynthesizer(llm, cfg.LLM.SynthesisModel), nil
	}
	return nil, fmt.Errorf("unsupported synthesizer mode: %s", cfg.Agent.SynthesizerMode)
}

// NewOrchestratorFromConfig wires all loop components from configuration.
// llm may be nil when no mode needs it.
func NewOrchestratorFromConfig(cfg *config.Config, registry *capability.Registry, store StateStore, llm LLMProvider, tele *telemetry.Telemetry, logger *log.Logger) (*Orchestrator, error) {
	planner, err := NewPlanBackend(cfg, llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	judge, err := NewJudgeBackend(cfg, llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator: %w", err)
	}
	synth, err := NewSynthesisBackend(cfg, llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}
	toolbox := NewToolbox(registry, cfg.Agent.ToolTimeout, tele, nil)
	return NewOrchestrator(OptionsFromConfig(cfg.Agent, cfg.General.Debug), Components{
		Planner:     planner,
		Toolbox:     toolbox,
		Evaluator:   judge,
		Synthesizer: synth,
		Store:       store,
	}, logger, tele)
}
