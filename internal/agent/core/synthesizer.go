package core

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// LLMSynthesizer writes the final answer with a chat model.
type LLMSynthesizer struct {
	llm   LLMProvider
	model string
}

func NewLLMSynthesizer(llm LLMProvider, model string) *LLMSynthesizer {
	return &LLMSynthesizer{llm: llm, model: model}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, question string, evidence []EvidenceRecord) (string, error) {
	out, err := s.llm.Generate(ctx, createSynthesisPrompt(question, evidence), s.model, map[string]interface{}{
		"temperature": 0.3,
		"system":      synthesisSystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// ExtractiveSynthesizer lists successful evidence verbatim (truncated). It is
// the offline counterpart of LLMSynthesizer.
type ExtractiveSynthesizer struct {
	MaxChars int
}

func NewExtractiveSynthesizer() *ExtractiveSynthesizer {
	return &ExtractiveSynthesizer{MaxChars: 400}
}

func (s *ExtractiveSynthesizer) Synthesize(_ context.Context, question string, evidence []EvidenceRecord) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Findings for: %s\n", question)
	n := 0
	for _, e := range evidence {
		if e.Failed {
			continue
		}
		n++
		fmt.Fprintf(&b, "[%d] %s: %s\n", e.Seq, e.Tool, truncate(e.Result, s.MaxChars))
	}
	if n == 0 {
		return "", fmt.Errorf("no successful evidence to summarise")
	}
	return strings.TrimSpace(b.String()), nil
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
