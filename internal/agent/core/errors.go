package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDependency matches any *DependencyError via errors.Is.
	ErrDependency = errors.New("backend dependency failed")

	ErrEmptyQuestion     = errors.New("question is empty")
	ErrConversationBusy  = errors.New("conversation already has a run in progress")
	ErrQuestionMismatch  = errors.New("conversation is mid-run with a different question")
	ErrStateNotFound     = errors.New("conversation state not found")
	ErrPersistence       = errors.New("conversation state persistence failed")
	ErrOutputAlreadySet  = errors.New("output already set")
	ErrIllegalTransition = errors.New("illegal phase transition")
)

// Stage names reported by DependencyError.
const (
	StagePlanner     = "planner"
	StageEvaluator   = "evaluator"
	StageSynthesizer = "synthesizer"
)

// DependencyError reports that a planner, evaluator or synthesizer backend
// failed or timed out. The loop does not recover from it.
type DependencyError struct {
	Stage string
	Err   error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s backend failed: %v", e.Stage, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependency }

func dependencyError(stage string, err error) error {
	return &DependencyError{Stage: stage, Err: err}
}
