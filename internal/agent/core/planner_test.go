package core

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/into-the-night/fin-breaker/internal/capability"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
	options  []map[string]interface{}
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ string, options map[string]interface{}) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.options = append(f.options, options)
	return f.response, f.err
}

func (f *fakeLLM) Embed(context.Context, string, []string) ([][]float32, error) {
	return nil, errors.New("not supported")
}

func TestParsePlanningResponseToolCalls(t *testing.T) {
	resp := "Sure, here is the plan:\n```json\n{\"action\": \"tools\", \"rationale\": \"need numbers {quarterly}\", \"tool_calls\": [{\"name\": \"fetch_earnings\", \"arguments\": {\"ticker\": \"NVDA\"}}]}\n```"
	d, err := parsePlanningResponse(resp)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Kind != PlanToolCalls || len(d.ToolCalls) != 1 || d.ToolCalls[0].Name != "fetch_earnings" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.ToolCalls[0].Arguments["ticker"] != "NVDA" {
		t.Fatalf("unexpected arguments: %+v", d.ToolCalls[0].Arguments)
	}
	if d.Rationale != "need numbers {quarterly}" {
		t.Fatalf("braces inside strings must not break extraction, got %q", d.Rationale)
	}
}

func TestParsePlanningResponseVariants(t *testing.T) {
	cases := []struct {
		in   string
		kind PlanKind
	}{
		{`{"action": "answer", "answer": "Hello!"}`, PlanDirectAnswer},
		{`{"action": "clarify", "question": "Which company?"}`, PlanClarification},
		{`{"tool_calls": [{"tool": "search_ticker", "args": {"keywords": "nvidia"}}]}`, PlanToolCalls},
	}
	for _, tc := range cases {
		d, err := parsePlanningResponse(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if d.Kind != tc.kind {
			t.Fatalf("%s: expected %s, got %s", tc.in, tc.kind, d.Kind)
		}
	}
	d, _ := parsePlanningResponse(`{"action": "clarify", "question": "Which company?"}`)
	if d.Answer != "Which company?" {
		t.Fatalf("clarification text should come from question field, got %q", d.Answer)
	}
	d, _ = parsePlanningResponse(`{"tool_calls": [{"tool": "search_ticker", "args": {"keywords": "nvidia"}}]}`)
	if d.ToolCalls[0].Name != "search_ticker" || d.ToolCalls[0].Arguments["keywords"] != "nvidia" {
		t.Fatalf("alternate field names not honoured: %+v", d.ToolCalls)
	}
}

func TestParsePlanningResponseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"no json here", `{"action": "tools", "tool_calls": []}`, `{"action": "dance"}`, `{"action": "answer"}`} {
		if _, err := parsePlanningResponse(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestLLMPlannerPromptIncludesCatalogAndEvidence(t *testing.T) {
	llm := &fakeLLM{response: `{"action":"tools","tool_calls":[{"name":"fetch_earnings","arguments":{"ticker":"NVDA"}}]}`}
	p := NewLLMPlanner(llm, "gpt-test", log.New(io.Discard, "", 0))
	_, err := p.GeneratePlan(context.Background(), PlanRequest{
		Question: "NVDA earnings?",
		Catalog: []capability.ToolCard{{Name: "fetch_earnings", Description: "Quarterly EPS", Params: []capability.Param{
			{Name: "ticker", Type: capability.TypeString, Required: true},
		}}},
		Evidence:    []EvidenceRecord{{Seq: 1, Tool: "fetch_company_news", Result: "error: 503"}},
		ReplanCount: 1,
	})
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	prompt := llm.prompts[0]
	for _, want := range []string{"NVDA earnings?", "fetch_earnings: Quarterly EPS", "ticker (string, required)", "[1] fetch_company_news: error: 503", "attempt 2"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if llm.options[0]["json"] != true {
		t.Fatalf("planner should request JSON output")
	}
}

func TestLLMPlannerPropagatesBackendError(t *testing.T) {
	p := NewLLMPlanner(&fakeLLM{err: errors.New("429")}, "m", log.New(io.Discard, "", 0))
	if _, err := p.GeneratePlan(context.Background(), PlanRequest{Question: "q"}); err == nil {
		t.Fatalf("expected error")
	}
}

func catalogOf(names ...string) []capability.ToolCard {
	out := make([]capability.ToolCard, len(names))
	for i, n := range names {
		out[i] = capability.ToolCard{Name: n}
	}
	return out
}

func TestRulePlanner(t *testing.T) {
	p := NewRulePlanner()
	catalog := catalogOf(RulePlannerTools()...)
	ctx := context.Background()

	d, _ := p.GeneratePlan(ctx, PlanRequest{Question: "Did NVDA beat earnings last quarter?", Catalog: catalog})
	if d.Kind != PlanToolCalls || d.ToolCalls[0].Name != "fetch_earnings" || d.ToolCalls[0].Arguments["ticker"] != "NVDA" {
		t.Fatalf("unexpected earnings plan: %+v", d)
	}

	d, _ = p.GeneratePlan(ctx, PlanRequest{Question: "What's our risk exposure to $TSM today?", Catalog: catalog})
	if d.Kind != PlanToolCalls || d.ToolCalls[0].Name != "fetch_time_series_market_data" || d.ToolCalls[0].Arguments["ticker"] != "TSM" {
		t.Fatalf("unexpected risk plan: %+v", d)
	}

	d, _ = p.GeneratePlan(ctx, PlanRequest{Question: "hello", Catalog: catalog})
	if d.Kind != PlanDirectAnswer {
		t.Fatalf("expected direct answer for greeting, got %s", d.Kind)
	}

	d, _ = p.GeneratePlan(ctx, PlanRequest{Question: "how is the company doing?", Catalog: catalog})
	if d.Kind != PlanClarification || d.Answer == "" {
		t.Fatalf("expected clarification, got %+v", d)
	}

	d, _ = p.GeneratePlan(ctx, PlanRequest{Question: "latest technology news", Catalog: catalog})
	if d.Kind != PlanToolCalls || d.ToolCalls[0].Name != "fetch_topic_news" {
		t.Fatalf("expected topic news, got %+v", d)
	}

	// tools missing from the catalog are never emitted
	d, _ = p.GeneratePlan(ctx, PlanRequest{Question: "Did NVDA beat earnings?", Catalog: catalogOf("fetch_company_news")})
	for _, c := range d.ToolCalls {
		if c.Name == "fetch_earnings" {
			t.Fatalf("planner emitted a tool outside the catalog")
		}
	}
}

func TestRulePlannerWidensOnReplan(t *testing.T) {
	p := NewRulePlanner()
	catalog := catalogOf(RulePlannerTools()...)
	first, _ := p.GeneratePlan(context.Background(), PlanRequest{Question: "AAPL earnings", Catalog: catalog})

	var evidence []EvidenceRecord
	for i, c := range first.ToolCalls {
		evidence = append(evidence, EvidenceRecord{Seq: i + 1, Tool: c.Name, Arguments: c.Arguments, Result: "{}"})
	}
	second, _ := p.GeneratePlan(context.Background(), PlanRequest{Question: "AAPL earnings", Catalog: catalog, Evidence: evidence, ReplanCount: 1})
	if second.Kind != PlanToolCalls {
		t.Fatalf("expected widened tool plan, got %+v", second)
	}
	for _, c := range second.ToolCalls {
		if c.Name == "fetch_earnings" {
			t.Fatalf("replan repeated a successful call: %+v", second.ToolCalls)
		}
	}
}

func TestExtractTickersSkipsStopwords(t *testing.T) {
	got := extractTickers("What did the CEO of AAPL say about AI and $MSFT in the US?")
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Fatalf("unexpected tickers %v", got)
	}
}
