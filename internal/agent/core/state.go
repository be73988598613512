package core

import (
	"fmt"
	"time"
)

var allowedTransitions = map[Phase][]Phase{
	PhasePlanning:     {PhaseTerminal, PhaseToolExec},
	PhaseToolExec:     {PhaseEvaluating},
	PhaseEvaluating:   {PhaseSynthesizing, PhasePlanning},
	PhaseSynthesizing: {PhaseTerminal},
}

// NewConversationState starts a fresh loop for question.
func NewConversationState(conversationID, question string) *ConversationState {
	now := time.Now().UTC()
	return &ConversationState{
		ConversationID: conversationID,
		Question:       question,
		Evidence:       []EvidenceRecord{},
		Sufficiency:    SufficiencyUnknown,
		Phase:          PhasePlanning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTerminal reports whether the loop has produced its output.
func (s *ConversationState) IsTerminal() bool {
	return s.Phase == PhaseTerminal && s.Output != ""
}

// Clone returns a deep copy safe to hand to stores and callers.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.PendingToolCalls = append([]ToolCall(nil), s.PendingToolCalls...)
	for i := range out.PendingToolCalls {
		out.PendingToolCalls[i].Arguments = copyArgs(out.PendingToolCalls[i].Arguments)
	}
	out.Evidence = append([]EvidenceRecord{}, s.Evidence...)
	for i := range out.Evidence {
		out.Evidence[i].Arguments = copyArgs(out.Evidence[i].Arguments)
	}
	return &out
}

func copyArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return copyArgs(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	}
	return v
}

// appendEvidence is the only writer of Evidence.
func (s *ConversationState) appendEvidence(rec EvidenceRecord) {
	rec.Seq = len(s.Evidence) + 1
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	s.Evidence = append(s.Evidence, rec)
}

func (s *ConversationState) setOutput(output string, outcome Outcome) error {
	if s.Output != "" {
		return fmt.Errorf("%w: conversation %s (%s)", ErrOutputAlreadySet, s.ConversationID, s.Outcome)
	}
	s.Output = output
	s.Outcome = outcome
	return nil
}

func (s *ConversationState) transition(to Phase) error {
	for _, p := range allowedTransitions[s.Phase] {
		if p == to {
			s.Phase = to
			s.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.Phase, to)
}

// EvidenceText renders the evidence list in stored order for prompts.
func EvidenceText(evidence []EvidenceRecord) string {
	if len(evidence) == 0 {
		return "(no evidence)"
	}
	var out []byte
	for _, e := range evidence {
		out = fmt.Appendf(out, "[%d] %s: %s\n", e.Seq, e.Tool, e.Result)
	}
	return string(out)
}

func (s *ConversationState) result() Result {
	return Result{
		ConversationID: s.ConversationID,
		Output:         s.Output,
		Outcome:        s.Outcome,
		Evidence:       append([]EvidenceRecord{}, s.Evidence...),
		PlannerCalls:   s.PlannerCalls,
		ReplanCount:    s.ReplanCount,
	}
}
