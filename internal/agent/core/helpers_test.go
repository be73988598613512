package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/into-the-night/fin-breaker/internal/capability"
)

type memStore struct {
	mu     sync.Mutex
	states map[string]*ConversationState
	saves  int
}

func newMemStore() *memStore { return &memStore{states: map[string]*ConversationState{}} }

func (s *memStore) Load(_ context.Context, id string) (*ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *memStore) Save(_ context.Context, st *ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.ConversationID] = st.Clone()
	s.saves++
	return nil
}

func (s *memStore) get(id string) *ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id].Clone()
}

type planFunc func(ctx context.Context, req PlanRequest) (PlanDecision, error)

type fakePlanner struct {
	mu    sync.Mutex
	calls int
	fn    planFunc
}

func (p *fakePlanner) GeneratePlan(ctx context.Context, req PlanRequest) (PlanDecision, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(ctx, req)
}

func (p *fakePlanner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type judgeFunc func(ctx context.Context, question string, evidence []EvidenceRecord) (Sufficiency, error)

type fakeJudge struct {
	mu    sync.Mutex
	calls int
	seen  [][]EvidenceRecord
	fn    judgeFunc
}

func (j *fakeJudge) Evaluate(ctx context.Context, question string, evidence []EvidenceRecord) (Sufficiency, error) {
	j.mu.Lock()
	j.calls++
	j.seen = append(j.seen, append([]EvidenceRecord(nil), evidence...))
	j.mu.Unlock()
	return j.fn(ctx, question, evidence)
}

type synthFunc func(ctx context.Context, question string, evidence []EvidenceRecord) (string, error)

type fakeSynth struct {
	mu    sync.Mutex
	calls int
	fn    synthFunc
}

func (s *fakeSynth) Synthesize(ctx context.Context, question string, evidence []EvidenceRecord) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, question, evidence)
}

func always(v Sufficiency) judgeFunc {
	return func(context.Context, string, []EvidenceRecord) (Sufficiency, error) { return v, nil }
}

func toolPlan(calls ...ToolCall) planFunc {
	return func(context.Context, PlanRequest) (PlanDecision, error) {
		return PlanDecision{Kind: PlanToolCalls, Rationale: "look it up", ToolCalls: calls}, nil
	}
}

func staticSynth(answer string) synthFunc {
	return func(context.Context, string, []EvidenceRecord) (string, error) { return answer, nil }
}

type toolCounter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *toolCounter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++
}

func (c *toolCounter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func testRegistry(t *testing.T, counter *toolCounter) *capability.Registry {
	t.Helper()
	ticker := []capability.Param{{Name: "ticker", Type: capability.TypeString, Required: true}}
	reg, err := capability.NewRegistry(
		capability.Tool{
			Card: capability.ToolCard{Name: "fetch_earnings", Description: "earnings", Params: ticker},
			Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
				counter.inc("fetch_earnings")
				return map[string]interface{}{"ticker": args["ticker"], "reportedEPS": "0.89", "estimatedEPS": "0.75"}, nil
			},
		},
		capability.Tool{
			Card: capability.ToolCard{Name: "fetch_company_news", Description: "news", Params: ticker},
			Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
				counter.inc("fetch_company_news")
				return fmt.Sprintf("headlines for %v", args["ticker"]), nil
			},
		},
		capability.Tool{
			Card: capability.ToolCard{Name: "boom", Description: "always fails"},
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				counter.inc("boom")
				return nil, errors.New("upstream 503")
			},
		},
		capability.Tool{
			Card: capability.ToolCard{Name: "panics", Description: "panics"},
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				panic("nil map")
			},
		},
		capability.Tool{
			Card: capability.ToolCard{Name: "slow", Description: "ignores deadlines"},
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				time.Sleep(200 * time.Millisecond)
				return "late", nil
			},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

type harness struct {
	orch    *Orchestrator
	store   *memStore
	planner *fakePlanner
	judge   *fakeJudge
	synth   *fakeSynth
	tools   *toolCounter
}

func newHarness(t *testing.T, opts Options, plan planFunc, judge judgeFunc, synth synthFunc) *harness {
	t.Helper()
	h := &harness{
		store:   newMemStore(),
		planner: &fakePlanner{fn: plan},
		judge:   &fakeJudge{fn: judge},
		synth:   &fakeSynth{fn: synth},
		tools:   &toolCounter{calls: map[string]int{}},
	}
	quiet := log.New(io.Discard, "", 0)
	tb := NewToolbox(testRegistry(t, h.tools), 50*time.Millisecond, nil, quiet)
	orch, err := NewOrchestrator(opts, Components{
		Planner:     h.planner,
		Toolbox:     tb,
		Evaluator:   h.judge,
		Synthesizer: h.synth,
		Store:       h.store,
	}, quiet, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.orch = orch
	return h
}

func defaultOptions() Options {
	return Options{
		ReplanCeiling:      3,
		PlannerTimeout:     time.Second,
		EvaluatorTimeout:   time.Second,
		SynthesizerTimeout: time.Second,
	}
}
