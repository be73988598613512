package core

import (
	"context"
	"time"

	"github.com/into-the-night/fin-breaker/internal/capability"
)

// Phase is a state of the orchestration loop.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseToolExec     Phase = "tool_exec"
	PhaseEvaluating   Phase = "evaluating"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseTerminal     Phase = "terminal"
)

// Sufficiency is the evaluator's verdict on the accumulated evidence.
type Sufficiency string

const (
	SufficiencyUnknown Sufficiency = "unknown"
	Sufficient         Sufficiency = "sufficient"
	Insufficient       Sufficiency = "insufficient"
)

// Outcome records which terminal path produced the output.
type Outcome string

const (
	OutcomeAnswer        Outcome = "answer"
	OutcomeDirect        Outcome = "direct"
	OutcomeClarification Outcome = "clarification"
	OutcomeFallback      Outcome = "fallback"
)

// FallbackMessage is returned when the replan ceiling is exhausted.
const FallbackMessage = "I was unable to find the answer, please rephrase your question."

// ToolCall is one planned tool invocation.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// EvidenceRecord is the outcome of one tool invocation. Result is opaque text:
// serialized tool output, or "error: <reason>" when Failed is set.
type EvidenceRecord struct {
	Seq        int                    `json:"seq"`
	Tool       string                 `json:"tool"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Result     string                 `json:"result"`
	Failed     bool                   `json:"failed,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// ConversationState is the single mutable record threaded through the loop.
type ConversationState struct {
	ConversationID   string           `json:"conversation_id"`
	Question         string           `json:"question"`
	PlanText         string           `json:"plan_text,omitempty"`
	PendingToolCalls []ToolCall       `json:"pending_tool_calls,omitempty"`
	Evidence         []EvidenceRecord `json:"evidence"`
	ReplanCount      int              `json:"replan_count"`
	PlannerCalls     int              `json:"planner_calls"`
	Sufficiency      Sufficiency      `json:"sufficiency"`
	Phase            Phase            `json:"phase"`
	Output           string           `json:"output,omitempty"`
	Outcome          Outcome          `json:"outcome,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// PlanKind distinguishes the three planner decisions.
type PlanKind string

const (
	PlanDirectAnswer  PlanKind = "answer"
	PlanClarification PlanKind = "clarify"
	PlanToolCalls     PlanKind = "tools"
)

// PlanDecision is what a plan backend returns for one planning step.
type PlanDecision struct {
	Kind      PlanKind   `json:"action"`
	Rationale string     `json:"rationale,omitempty"`
	Answer    string     `json:"answer,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// PlanRequest carries everything a plan backend may look at.
type PlanRequest struct {
	Question    string
	Evidence    []EvidenceRecord
	Catalog     []capability.ToolCard
	ReplanCount int
}

// Result is returned by Orchestrator.Run.
type Result struct {
	ConversationID string           `json:"conversation_id"`
	Output         string           `json:"output"`
	Outcome        Outcome          `json:"outcome"`
	Evidence       []EvidenceRecord `json:"evidence"`
	PlannerCalls   int              `json:"planner_calls"`
	ReplanCount    int              `json:"replan_count"`
}

// ProcessingStatus describes an in-flight run.
type ProcessingStatus struct {
	ConversationID string    `json:"conversation_id"`
	Phase          Phase     `json:"phase"`
	ReplanCount    int       `json:"replan_count"`
	EvidenceCount  int       `json:"evidence_count"`
	StartedAt      time.Time `json:"started_at"`
	LastUpdated    time.Time `json:"last_updated"`

	cancel context.CancelFunc
}

// PlanBackend produces a plan decision for the current state.
type PlanBackend interface {
	GeneratePlan(ctx context.Context, req PlanRequest) (PlanDecision, error)
}

// JudgeBackend decides whether evidence answers the question. It must return
// Sufficient or Insufficient.
type JudgeBackend interface {
	Evaluate(ctx context.Context, question string, evidence []EvidenceRecord) (Sufficiency, error)
}

// SynthesisBackend writes the final answer from evidence in stored order.
type SynthesisBackend interface {
	Synthesize(ctx context.Context, question string, evidence []EvidenceRecord) (string, error)
}

// StateStore persists conversation state between runs.
type StateStore interface {
	// Load returns ErrStateNotFound for unknown ids.
	Load(ctx context.Context, conversationID string) (*ConversationState, error)
	Save(ctx context.Context, state *ConversationState) error
}

// LLMProvider is the text generation contract used by the LLM-backed
// planner, evaluator and synthesizer.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}
