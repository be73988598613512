package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/into-the-night/fin-breaker/internal/agent/telemetry"
	"github.com/into-the-night/fin-breaker/internal/capability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Toolbox executes planned tool calls against the registry. Every call,
// successful or not, yields exactly one evidence record.
type Toolbox struct {
	registry  *capability.Registry
	timeout   time.Duration
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

const unknownToolLabel = "unknown"

func NewToolbox(registry *capability.Registry, timeout time.Duration, tele *telemetry.Telemetry, logger *log.Logger) *Toolbox {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLBOX] ", log.LstdFlags)
	}
	return &Toolbox{registry: registry, timeout: timeout, telemetry: tele, logger: logger}
}

// Registry exposes the catalog the toolbox resolves against.
func (tb *Toolbox) Registry() *capability.Registry { return tb.registry }

// Execute consumes state.PendingToolCalls in order. A cancelled parent
// context stops the batch; calls not yet consumed stay pending.
func (tb *Toolbox) Execute(ctx context.Context, state *ConversationState) error {
	for len(state.PendingToolCalls) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		call := state.PendingToolCalls[0]
		rec := tb.Call(ctx, call)
		if err := ctx.Err(); err != nil {
			// the result is an artifact of cancellation, not of the tool
			return err
		}
		state.appendEvidence(rec)
		state.PendingToolCalls = state.PendingToolCalls[1:]
	}
	state.PendingToolCalls = nil
	return nil
}

// Call runs a single tool and converts every failure mode into a failed
// evidence record.
func (tb *Toolbox) Call(ctx context.Context, call ToolCall) EvidenceRecord {
	ctx, span := tracer.Start(ctx, "agent.tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	start := time.Now()
	rec := EvidenceRecord{Tool: call.Name, Arguments: call.Arguments}
	var text string
	out, err := tb.invoke(ctx, call)
	if err == nil {
		text, err = serializeResult(out)
	}
	if err != nil {
		rec.Failed = true
		rec.Result = "error: " + err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tb.logger.Printf("tool %s failed: %v", call.Name, err)
	} else {
		rec.Result = text
	}
	rec.RecordedAt = time.Now().UTC()
	tb.telemetry.RecordTool(tb.metricLabel(call.Name), rec.Failed, time.Since(start))
	return rec
}

// metricLabel keeps planner-invented names out of metric labels.
func (tb *Toolbox) metricLabel(name string) string {
	if _, err := tb.registry.Resolve(name); err != nil {
		return unknownToolLabel
	}
	return name
}

func (tb *Toolbox) invoke(ctx context.Context, call ToolCall) (interface{}, error) {
	tool, err := tb.registry.Resolve(call.Name)
	if err != nil {
		return nil, err
	}
	if err := tb.registry.Validate(call.Name, call.Arguments); err != nil {
		return nil, err
	}
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	if tb.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tb.timeout)
		defer cancel()
	}

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		v, err := tool.Handler(ctx, args)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool timed out after %s", tb.timeout)
		}
		return o.val, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool timed out after %s", tb.timeout)
		}
		return nil, ctx.Err()
	}
}

func serializeResult(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case nil:
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize result: %w", err)
	}
	return string(b), nil
}
