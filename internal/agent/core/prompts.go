package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/into-the-night/fin-breaker/internal/capability"
)

const plannerSystemPrompt = `You are the planning component of a financial research assistant.
You decide, for one user question, whether to answer directly, ask the user to clarify, or call tools.
Respond with a single JSON object and nothing else.`

const synthesisSystemPrompt = `You are a financial analyst assistant writing a concise brief for a portfolio manager.
Use only the numbered evidence provided. Highlight risk exposure, key numbers and earnings surprises.
Cite evidence by its number in square brackets. If a source failed, do not invent its content.`

const evaluatorSystemPrompt = `You judge whether collected evidence is enough to answer a financial question.
Respond with a single JSON object and nothing else.`

func renderCatalog(catalog []capability.ToolCard) string {
	var b strings.Builder
	for _, tc := range catalog {
		fmt.Fprintf(&b, "- %s: %s\n", tc.Name, tc.Description)
		for _, p := range tc.Params {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(&b, "    %s (%s%s)", p.Name, p.Type, req)
			if p.Description != "" {
				fmt.Fprintf(&b, ": %s", p.Description)
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, " one of [%s]", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func createPlanningPrompt(req PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\n", req.Question)
	b.WriteString("AVAILABLE TOOLS:\n")
	b.WriteString(renderCatalog(req.Catalog))
	b.WriteString("\n")
	if len(req.Evidence) > 0 {
		fmt.Fprintf(&b, "EVIDENCE GATHERED SO FAR (attempt %d, judged insufficient):\n%s\n", req.ReplanCount+1, EvidenceText(req.Evidence))
		b.WriteString("Plan different or additional tool calls that fill the gaps. Do not repeat calls that already succeeded.\n\n")
	}
	b.WriteString(`Return JSON with this shape:
{
  "action": "tools" | "answer" | "clarify",
  "rationale": "one sentence on why",
  "answer": "text for answer or the clarifying question for clarify",
  "tool_calls": [{"name": "tool_name", "arguments": {"param": "value"}}]
}
Use "answer" for greetings and questions outside finance. Use "clarify" when the company, ticker or timeframe cannot be inferred.
Only use tool names from the list above.`)
	return b.String()
}

func createEvaluationPrompt(question string, evidence []EvidenceRecord) string {
	return fmt.Sprintf(`QUESTION:
%s

EVIDENCE:
%s
Is this evidence sufficient to answer the question accurately?
Return JSON: {"verdict": "sufficient" | "insufficient", "reason": "short explanation"}`, question, EvidenceText(evidence))
}

func createSynthesisPrompt(question string, evidence []EvidenceRecord) string {
	return fmt.Sprintf(`QUESTION:
%s

EVIDENCE (in collection order):
%s
Write the answer now.`, question, EvidenceText(evidence))
}

// extractJSON returns the first balanced {...} block in response.
func extractJSON(response string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidate := response[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, nil
					}
					start = -1
				}
			}
		}
	}
	return "", fmt.Errorf("no JSON found in response")
}
