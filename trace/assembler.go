package trace

import (
	"time"
)

// Outcome is the executor's terminal report for one run, consumed by Assemble.
// FailedIndex is -1 when the failure happened before any stage ran (for
// example a configuration error).
type Outcome struct {
	Status      RunStatus
	FailedIndex int
	FailedStage string
	Err         error
	RunID       string
	RequestID   string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Assemble converts the reducer state and the executor outcome into the
// boundary response. It never panics and always returns a well-formed result:
//
//   - Completed: every closed stage plus the workflow final message
//   - Failed: the completed prefix and a failure locator naming the stage
//   - Cancelled: the completed prefix only; the interrupted stage is dropped
func Assemble(agg *Aggregator, out Outcome) *WorkflowResult {
	if agg == nil {
		agg = NewAggregator(nil)
	}

	res := &WorkflowResult{
		RunID:      out.RunID,
		RequestID:  out.RequestID,
		Stages:     agg.Stages(),
		Status:     out.Status,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}

	switch out.Status {
	case RunCompleted:
		if msg, ok := agg.FinalMessage(); ok {
			res.FinalMessage = &msg
		}
	case RunCancelled:
		// completed prefix only
	case RunFailed:
		res.Failure = failureOf(out)
	default:
		res.Status = RunFailed
		res.Failure = &Failure{StageIndex: out.FailedIndex, StageName: out.FailedStage, Message: "unknown run outcome"}
	}

	return res
}

func failureOf(out Outcome) *Failure {
	msg := "stage failed"
	if out.Err != nil {
		msg = out.Err.Error()
	}
	return &Failure{StageIndex: out.FailedIndex, StageName: out.FailedStage, Message: msg}
}
