package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStageTimeout marks a stage that exceeded its per-invocation timeout.
	ErrStageTimeout = errors.New("stage timed out")
	// ErrUnknownStage is returned when a mandatory stage has no registration.
	ErrUnknownStage = errors.New("stage not registered")
	// ErrDuplicateStage is returned when a stage name appears twice.
	ErrDuplicateStage = errors.New("duplicate stage")
)

// ConfigurationError is fatal: a mandatory stage's registration or location
// is missing, so the run aborts before any stage executes.
type ConfigurationError struct {
	Stage string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error for stage %s: %v", e.Stage, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AgentResolutionError reports a remote stage whose descriptor could not be
// fetched. Optional stages failing this way are omitted from the pipeline.
type AgentResolutionError struct {
	Stage   string
	BaseURL string
	Err     error
}

func (e *AgentResolutionError) Error() string {
	return fmt.Sprintf("resolve stage %s at %s: %v", e.Stage, e.BaseURL, e.Err)
}

func (e *AgentResolutionError) Unwrap() error { return e.Err }

// StageExecutionError reports a stage that raised or timed out mid-run. Index
// is zero-based within the pipeline.
type StageExecutionError struct {
	Index int
	Stage string
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Index, e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// Timeout reports whether the stage failed by exceeding its timeout.
func (e *StageExecutionError) Timeout() bool { return errors.Is(e.Err, ErrStageTimeout) }

// AggregationError describes a malformed or unmatched event seen by the trace
// reducer. It is logged and the event skipped; it never fails a run.
type AggregationError struct {
	EventID string
	Kind    EventKind
	Reason  string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation: skipped %s event %s: %s", e.Kind, e.EventID, e.Reason)
}
