package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Validate rejects decisions the loop cannot act on.
func (d PlanDecision) Validate() error {
	switch d.Kind {
	case PlanDirectAnswer, PlanClarification:
		if strings.TrimSpace(d.Answer) == "" {
			return fmt.Errorf("%s decision has no text", d.Kind)
		}
	case PlanToolCalls:
		if len(d.ToolCalls) == 0 {
			return fmt.Errorf("tool plan has no calls")
		}
		for i, c := range d.ToolCalls {
			if strings.TrimSpace(c.Name) == "" {
				return fmt.Errorf("tool call %d has no name", i)
			}
		}
	default:
		return fmt.Errorf("unknown plan action %q", d.Kind)
	}
	return nil
}

// LLMPlanner asks a chat model for the next decision.
type LLMPlanner struct {
	llm         LLMProvider
	model       string
	temperature float64
	logger      *log.Logger
}

func NewLLMPlanner(llm LLMProvider, model string, logger *log.Logger) *LLMPlanner {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	}
	return &LLMPlanner{llm: llm, model: model, temperature: 0.2, logger: logger}
}

func (p *LLMPlanner) GeneratePlan(ctx context.Context, req PlanRequest) (PlanDecision, error) {
	start := time.Now()
	response, err := p.llm.Generate(ctx, createPlanningPrompt(req), p.model, map[string]interface{}{
		"temperature": p.temperature,
		"system":      plannerSystemPrompt,
		"json":        true,
	})
	if err != nil {
		return PlanDecision{}, fmt.Errorf("failed to generate plan: %w", err)
	}
	decision, err := parsePlanningResponse(response)
	if err != nil {
		return PlanDecision{}, fmt.Errorf("failed to parse planning response: %w", err)
	}
	p.logger.Printf("planned %s with %d tool calls in %v", decision.Kind, len(decision.ToolCalls), time.Since(start))
	return decision, nil
}

func parsePlanningResponse(response string) (PlanDecision, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return PlanDecision{}, err
	}
	var raw struct {
		Action    string `json:"action"`
		Rationale string `json:"rationale"`
		Answer    string `json:"answer"`
		Question  string `json:"question"`
		ToolCalls []struct {
			Name      string                 `json:"name"`
			Tool      string                 `json:"tool"`
			Arguments map[string]interface{} `json:"arguments"`
			Args      map[string]interface{} `json:"args"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return PlanDecision{}, fmt.Errorf("decode plan: %w", err)
	}

	d := PlanDecision{Rationale: raw.Rationale, Answer: raw.Answer}
	switch strings.ToLower(strings.TrimSpace(raw.Action)) {
	case "tools", "tool_calls", "act", "call_tools":
		d.Kind = PlanToolCalls
	case "answer", "direct", "direct_answer", "respond":
		d.Kind = PlanDirectAnswer
	case "clarify", "clarification", "ask":
		d.Kind = PlanClarification
		if d.Answer == "" {
			d.Answer = raw.Question
		}
	case "":
		// models occasionally drop the action when they only list calls
		if len(raw.ToolCalls) > 0 {
			d.Kind = PlanToolCalls
		}
	default:
		d.Kind = PlanKind(raw.Action)
	}
	for _, c := range raw.ToolCalls {
		name := c.Name
		if name == "" {
			name = c.Tool
		}
		args := c.Arguments
		if args == nil {
			args = c.Args
		}
		d.ToolCalls = append(d.ToolCalls, ToolCall{Name: strings.TrimSpace(name), Arguments: args})
	}
	if d.Kind != PlanToolCalls {
		d.ToolCalls = nil
	}
	if err := d.Validate(); err != nil {
		return PlanDecision{}, err
	}
	return d, nil
}
