package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLMEvaluator asks a chat model for a sufficiency verdict.
type LLMEvaluator struct {
	llm   LLMProvider
	model string
}

func NewLLMEvaluator(llm LLMProvider, model string) *LLMEvaluator {
	return &LLMEvaluator{llm: llm, model: model}
}

func (e *LLMEvaluator) Evaluate(ctx context.Context, question string, evidence []EvidenceRecord) (Sufficiency, error) {
	response, err := e.llm.Generate(ctx, createEvaluationPrompt(question, evidence), e.model, map[string]interface{}{
		"temperature": 0.0,
		"system":      evaluatorSystemPrompt,
		"json":        true,
	})
	if err != nil {
		return SufficiencyUnknown, fmt.Errorf("failed to evaluate evidence: %w", err)
	}
	return parseVerdict(response)
}

func parseVerdict(response string) (Sufficiency, error) {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return SufficiencyUnknown, err
	}
	var raw struct {
		Verdict    string `json:"verdict"`
		Sufficient *bool  `json:"sufficient"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return SufficiencyUnknown, fmt.Errorf("decode verdict: %w", err)
	}
	if raw.Verdict == "" && raw.Sufficient != nil {
		if *raw.Sufficient {
			return Sufficient, nil
		}
		return Insufficient, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw.Verdict)) {
	case "sufficient", "yes":
		return Sufficient, nil
	case "insufficient", "no":
		return Insufficient, nil
	}
	return SufficiencyUnknown, fmt.Errorf("unrecognised verdict %q", raw.Verdict)
}

// ThresholdEvaluator judges evidence sufficient once at least Min tool calls
// have succeeded.
type ThresholdEvaluator struct {
	Min int
}

func NewThresholdEvaluator(minOK int) *ThresholdEvaluator {
	if minOK < 1 {
		minOK = 1
	}
	return &ThresholdEvaluator{Min: minOK}
}

func (e *ThresholdEvaluator) Evaluate(_ context.Context, _ string, evidence []EvidenceRecord) (Sufficiency, error) {
	ok := 0
	for _, r := range evidence {
		if !r.Failed {
			ok++
		}
	}
	if ok >= e.Min {
		return Sufficient, nil
	}
	return Insufficient, nil
}
