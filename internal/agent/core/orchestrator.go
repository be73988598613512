package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/telemetry"
	"github.com/into-the-night/fin-breaker/internal/capability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("fin-breaker/internal/agent/core")

// checkpointTimeout bounds a single state save.
const checkpointTimeout = 5 * time.Second

// Options are the loop limits. Build them with OptionsFromConfig.
type Options struct {
	ReplanCeiling      int
	PlannerTimeout     time.Duration
	EvaluatorTimeout   time.Duration
	SynthesizerTimeout time.Duration
	MaxConcurrentRuns  int
	Debug              bool
}

func OptionsFromConfig(cfg config.AgentConfig, debug bool) Options {
	return Options{
		ReplanCeiling:      cfg.ReplanCeiling,
		PlannerTimeout:     cfg.PlannerTimeout,
		EvaluatorTimeout:   cfg.EvaluatorTimeout,
		SynthesizerTimeout: cfg.SynthesizerTimeout,
		MaxConcurrentRuns:  cfg.MaxConcurrentRuns,
		Debug:              debug,
	}
}

// Components are the collaborators the loop drives.
type Components struct {
	Planner     PlanBackend
	Toolbox     *Toolbox
	Evaluator   JudgeBackend
	Synthesizer SynthesisBackend
	Store       StateStore
}

// Orchestrator runs the plan -> act -> evaluate -> synthesize loop, one
// goroutine of control per conversation.
type Orchestrator struct {
	opts      Options
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	planner     PlanBackend
	toolbox     *Toolbox
	evaluator   JudgeBackend
	synthesizer SynthesisBackend
	store       StateStore

	// Processing state
	processing map[string]*ProcessingStatus
	mu         sync.RWMutex

	// Concurrency control
	semaphore chan struct{}
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(opts Options, c Components, logger *log.Logger, tele *telemetry.Telemetry) (*Orchestrator, error) {
	if opts.ReplanCeiling < 0 || opts.ReplanCeiling > config.MaxReplanCeiling {
		return nil, fmt.Errorf("replan ceiling must be between 0 and %d (got %d)", config.MaxReplanCeiling, opts.ReplanCeiling)
	}
	switch {
	case c.Planner == nil:
		return nil, fmt.Errorf("planner backend is required")
	case c.Toolbox == nil:
		return nil, fmt.Errorf("toolbox is required")
	case c.Evaluator == nil:
		return nil, fmt.Errorf("evaluator backend is required")
	case c.Synthesizer == nil:
		return nil, fmt.Errorf("synthesizer backend is required")
	case c.Store == nil:
		return nil, fmt.Errorf("state store is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	o := &Orchestrator{
		opts:        opts,
		logger:      logger,
		telemetry:   tele,
		planner:     c.Planner,
		toolbox:     c.Toolbox,
		evaluator:   c.Evaluator,
		synthesizer: c.Synthesizer,
		store:       c.Store,
		processing:  make(map[string]*ProcessingStatus),
	}
	if opts.MaxConcurrentRuns > 0 {
		o.semaphore = make(chan struct{}, opts.MaxConcurrentRuns)
	}
	return o, nil
}

// Registry exposes the tool catalog.
func (o *Orchestrator) Registry() *capability.Registry { return o.toolbox.Registry() }

// Toolbox exposes the toolbox for direct tool invocations.
func (o *Orchestrator) Toolbox() *Toolbox { return o.toolbox }

// Conversation loads the persisted state for id.
func (o *Orchestrator) Conversation(ctx context.Context, conversationID string) (*ConversationState, error) {
	return o.store.Load(ctx, conversationID)
}

// Run answers question within conversationID, resuming a persisted
// non-terminal state when one exists. An empty id starts a new conversation.
func (o *Orchestrator) Run(ctx context.Context, question, conversationID string) (Result, error) {
	startTime := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	ctx, span := tracer.Start(ctx, "agent.run", trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	status, err := o.begin(conversationID, cancel)
	if err != nil {
		return Result{}, err
	}
	defer o.finish(conversationID)

	if o.semaphore != nil {
		select {
		case o.semaphore <- struct{}{}:
			defer func() { <-o.semaphore }()
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	res, err := o.run(ctx, question, conversationID, status)
	o.telemetry.RecordRun(string(res.Outcome), time.Since(startTime))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Printf("conversation %s failed: %v", conversationID, err)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("planner.calls", res.PlannerCalls),
		attribute.Int("evidence.count", len(res.Evidence)),
	)
	o.logger.Printf("conversation %s finished: outcome=%s planner_calls=%d evidence=%d in %v",
		conversationID, res.Outcome, res.PlannerCalls, len(res.Evidence), time.Since(startTime))
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, question, conversationID string, status *ProcessingStatus) (Result, error) {
	state, err := o.loadState(ctx, conversationID, question)
	if err != nil {
		return Result{}, err
	}
	if state.IsTerminal() {
		return state.result(), nil
	}
	return o.drive(ctx, state, status)
}

func (o *Orchestrator) loadState(ctx context.Context, conversationID, question string) (*ConversationState, error) {
	st, err := o.store.Load(ctx, conversationID)
	if errors.Is(err, ErrStateNotFound) {
		return NewConversationState(conversationID, question), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load conversation %s: %w", ErrPersistence, conversationID, err)
	}
	if st.Question != question {
		if st.IsTerminal() {
			// a finished conversation takes a new turn, e.g. after a clarification
			return NewConversationState(conversationID, question), nil
		}
		return nil, fmt.Errorf("%w: %s", ErrQuestionMismatch, conversationID)
	}
	switch st.Phase {
	case PhasePlanning, PhaseToolExec, PhaseEvaluating, PhaseSynthesizing, PhaseTerminal:
	default:
		return nil, fmt.Errorf("%w: stored conversation %s has unknown phase %q", ErrPersistence, conversationID, st.Phase)
	}
	if st.Evidence == nil {
		st.Evidence = []EvidenceRecord{}
	}
	if o.opts.Debug {
		o.logger.Printf("resuming conversation %s at %s (replans=%d, evidence=%d)", conversationID, st.Phase, st.ReplanCount, len(st.Evidence))
	}
	return st, nil
}

// drive executes steps until a terminal state, a cancellation or an error.
// The state is checkpointed after every step.
func (o *Orchestrator) drive(ctx context.Context, state *ConversationState, status *ProcessingStatus) (Result, error) {
	for {
		if state.Phase == PhaseTerminal {
			return state.result(), nil
		}
		if err := ctx.Err(); err != nil {
			o.checkpointDetached(ctx, state)
			return Result{}, err
		}
		o.updateStatus(status, state)

		phase := state.Phase
		stepStart := time.Now()
		stepCtx, span := tracer.Start(ctx, "agent."+string(phase), trace.WithAttributes(
			attribute.Int("replan.count", state.ReplanCount),
			attribute.Int("evidence.count", len(state.Evidence)),
		))
		var err error
		switch phase {
		case PhasePlanning:
			err = o.planStep(stepCtx, state)
		case PhaseToolExec:
			err = o.toolStep(stepCtx, state)
		case PhaseEvaluating:
			err = o.evaluateStep(stepCtx, state)
		case PhaseSynthesizing:
			err = o.synthesizeStep(stepCtx, state)
		default:
			err = fmt.Errorf("%w: unknown phase %q", ErrIllegalTransition, phase)
		}
		o.telemetry.RecordStep(string(phase), time.Since(stepStart), err != nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			o.checkpointDetached(ctx, state)
			return Result{}, err
		}
		span.End()
		if o.opts.Debug {
			o.logger.Printf("conversation %s: %s -> %s", state.ConversationID, phase, state.Phase)
		}
		if err := o.checkpoint(ctx, state); err != nil {
			return Result{}, err
		}
	}
}

func (o *Orchestrator) planStep(ctx context.Context, state *ConversationState) error {
	if state.ReplanCount > o.opts.ReplanCeiling {
		o.logger.Printf("conversation %s: replan ceiling %d exhausted", state.ConversationID, o.opts.ReplanCeiling)
		if err := state.setOutput(FallbackMessage, OutcomeFallback); err != nil {
			return err
		}
		return state.transition(PhaseTerminal)
	}

	stepCtx, cancel := withStepTimeout(ctx, o.opts.PlannerTimeout)
	defer cancel()
	state.PlannerCalls++
	decision, err := o.planner.GeneratePlan(stepCtx, PlanRequest{
		Question:    state.Question,
		Evidence:    append([]EvidenceRecord(nil), state.Evidence...),
		Catalog:     o.toolbox.Registry().Catalog(),
		ReplanCount: state.ReplanCount,
	})
	if err == nil {
		err = decision.Validate()
	}
	o.telemetry.RecordPlannerCall(err != nil)
	if err != nil {
		return stepError(ctx, StagePlanner, err)
	}

	state.PlanText = decision.Rationale
	switch decision.Kind {
	case PlanDirectAnswer:
		if err := state.setOutput(decision.Answer, OutcomeDirect); err != nil {
			return err
		}
		return state.transition(PhaseTerminal)
	case PlanClarification:
		if err := state.setOutput(decision.Answer, OutcomeClarification); err != nil {
			return err
		}
		return state.transition(PhaseTerminal)
	default:
		state.PendingToolCalls = append([]ToolCall(nil), decision.ToolCalls...)
		return state.transition(PhaseToolExec)
	}
}

func (o *Orchestrator) toolStep(ctx context.Context, state *ConversationState) error {
	if err := o.toolbox.Execute(ctx, state); err != nil {
		return err
	}
	return state.transition(PhaseEvaluating)
}

func (o *Orchestrator) evaluateStep(ctx context.Context, state *ConversationState) error {
	verdict := Insufficient
	if len(state.Evidence) > 0 {
		stepCtx, cancel := withStepTimeout(ctx, o.opts.EvaluatorTimeout)
		defer cancel()
		v, err := o.evaluator.Evaluate(stepCtx, state.Question, append([]EvidenceRecord(nil), state.Evidence...))
		if err != nil {
			return stepError(ctx, StageEvaluator, err)
		}
		if v != Sufficient && v != Insufficient {
			return dependencyError(StageEvaluator, fmt.Errorf("invalid verdict %q", v))
		}
		verdict = v
	}
	state.Sufficiency = verdict
	if verdict == Sufficient {
		return state.transition(PhaseSynthesizing)
	}
	state.ReplanCount++
	state.Sufficiency = SufficiencyUnknown
	return state.transition(PhasePlanning)
}

func (o *Orchestrator) synthesizeStep(ctx context.Context, state *ConversationState) error {
	stepCtx, cancel := withStepTimeout(ctx, o.opts.SynthesizerTimeout)
	defer cancel()
	out, err := o.synthesizer.Synthesize(stepCtx, state.Question, append([]EvidenceRecord(nil), state.Evidence...))
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		state.rewindToEvaluation()
		return stepError(ctx, StageSynthesizer, err)
	}
	if err := state.setOutput(out, OutcomeAnswer); err != nil {
		return err
	}
	return state.transition(PhaseTerminal)
}

// rewindToEvaluation is the resume point after a failed synthesis: the
// verdict is not kept, so a retry re-evaluates before synthesizing.
func (s *ConversationState) rewindToEvaluation() {
	s.Phase = PhaseEvaluating
	s.Sufficiency = SufficiencyUnknown
	s.UpdatedAt = time.Now().UTC()
}

func withStepTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// stepError reports parent cancellation as itself and anything else,
// including the step's own timeout, as a dependency failure.
func stepError(parent context.Context, stage string, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	return dependencyError(stage, err)
}

// checkpoint saves a copy of state. Saves are detached from ctx so that a
// cancelled run still records where it stopped.
func (o *Orchestrator) checkpoint(ctx context.Context, state *ConversationState) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if err := o.store.Save(saveCtx, state.Clone()); err != nil {
		return fmt.Errorf("%w: save conversation %s: %w", ErrPersistence, state.ConversationID, err)
	}
	return nil
}

// checkpointDetached is checkpoint for paths that already carry an error.
func (o *Orchestrator) checkpointDetached(ctx context.Context, state *ConversationState) {
	if err := o.checkpoint(ctx, state); err != nil {
		o.logger.Printf("conversation %s: %v", state.ConversationID, err)
	}
}

func (o *Orchestrator) begin(conversationID string, cancel context.CancelFunc) (*ProcessingStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.processing[conversationID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, conversationID)
	}
	now := time.Now()
	status := &ProcessingStatus{
		ConversationID: conversationID,
		Phase:          PhasePlanning,
		StartedAt:      now,
		LastUpdated:    now,
		cancel:         cancel,
	}
	o.processing[conversationID] = status
	return status, nil
}

func (o *Orchestrator) finish(conversationID string) {
	o.mu.Lock()
	delete(o.processing, conversationID)
	o.mu.Unlock()
}

func (o *Orchestrator) updateStatus(status *ProcessingStatus, state *ConversationState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status.Phase = state.Phase
	status.ReplanCount = state.ReplanCount
	status.EvidenceCount = len(state.Evidence)
	status.LastUpdated = time.Now()
}

// GetStatus reports an in-flight run.
func (o *Orchestrator) GetStatus(conversationID string) (ProcessingStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	status, ok := o.processing[conversationID]
	if !ok {
		return ProcessingStatus{}, false
	}
	return *status, true
}

// ListActive returns all in-flight runs.
func (o *Orchestrator) ListActive() []ProcessingStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ProcessingStatus, 0, len(o.processing))
	for _, status := range o.processing {
		out = append(out, *status)
	}
	return out
}

// CancelProcessing cancels an in-flight run. The run checkpoints and returns
// context.Canceled.
func (o *Orchestrator) CancelProcessing(conversationID string) bool {
	o.mu.RLock()
	status, ok := o.processing[conversationID]
	o.mu.RUnlock()
	if !ok || status.cancel == nil {
		return false
	}
	status.cancel()
	return true
}
