// Package trace folds the linear execution event stream of a run into an
// ordered list of per-stage traces and assembles the boundary-facing
// WorkflowResult.
//
// The stream multiplexes stage boundaries, tool call requests and results,
// streamed text and the final workflow message over one channel, with no call
// identifiers. The Aggregator reconstructs structure purely from arrival order.
package trace

import (
	"sync"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// Aggregator is a stateful reducer over execution events. Apply must be called
// in event order. An Aggregator belongs to exactly one run.
type Aggregator struct {
	mu           sync.Mutex
	stages       []*StageTrace
	open         *StageTrace
	finalMessage *string
	skipped      []*core.AggregationError
	logger       logging.Logger
}

// NewAggregator creates an empty reducer. A nil logger discards diagnostics.
func NewAggregator(logger logging.Logger) *Aggregator {
	return &Aggregator{logger: logging.Ensure(logger)}
}

// Reduce replays a captured event log into a fresh Aggregator.
func Reduce(events []core.Event, logger logging.Logger) *Aggregator {
	agg := NewAggregator(logger)
	for _, ev := range events {
		agg.Apply(ev)
	}
	return agg
}

// Apply folds one event into the state. Malformed or unmatched events are
// recorded as AggregationErrors, logged and skipped; they never touch an
// unrelated stage.
func (a *Aggregator) Apply(ev core.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !ev.Valid() {
		a.skip(ev, "malformed or unrecognised event")
		return
	}

	switch p := ev.Payload.(type) {
	case core.StageStarted:
		a.startStage(ev, p)
	case core.ToolCallRequested:
		a.requestTool(ev, p)
	case core.ToolCallResult:
		a.attachResult(ev, p)
	case core.TextDelta:
		a.appendText(ev, p)
	case core.StageCompleted:
		a.completeStage(ev, p)
	case core.WorkflowFinalMessage:
		text := p.Text
		a.finalMessage = &text
	default:
		a.skip(ev, "unhandled payload type")
	}
}

func (a *Aggregator) startStage(ev core.Event, p core.StageStarted) {
	if p.Name == "" {
		a.skip(ev, "stage started without a name")
		return
	}
	if a.open != nil {
		a.logger.Warn("trace.stage.implicit_close", "stage", a.open.AgentName, "next", p.Name)
		a.closeOpen(StageCompleted)
	}
	a.open = newStageTrace(p.Name)
}

func (a *Aggregator) requestTool(ev core.Event, p core.ToolCallRequested) {
	if a.open == nil {
		a.skip(ev, "tool call requested outside a stage")
		return
	}
	a.open.ToolCalls = append(a.open.ToolCalls, ToolCallRecord{
		ToolName:  p.ToolName,
		Arguments: p.Arguments,
	})
}

func (a *Aggregator) attachResult(ev core.Event, p core.ToolCallResult) {
	if a.open == nil {
		a.skip(ev, "tool call result outside a stage")
		return
	}
	rec := matchResult(a.open)
	if rec == nil {
		a.skip(ev, "no pending tool call to match")
		return
	}
	rec.Result = p.Result
	rec.Error = p.Error
	rec.Completed = true
}

// matchResult picks the record a ToolCallResult belongs to: the most recently
// appended call of the stage whose result is still unset. Correlation is by
// order only; swapping in identifier-based matching only touches this function.
func matchResult(stage *StageTrace) *ToolCallRecord {
	for i := len(stage.ToolCalls) - 1; i >= 0; i-- {
		if !stage.ToolCalls[i].Completed {
			return &stage.ToolCalls[i]
		}
	}
	return nil
}

func (a *Aggregator) appendText(ev core.Event, p core.TextDelta) {
	if a.open == nil {
		a.skip(ev, "text delta outside a stage")
		return
	}
	a.open.TextOutput += p.Text
}

func (a *Aggregator) completeStage(ev core.Event, p core.StageCompleted) {
	if a.open == nil {
		a.skip(ev, "stage completed without an open stage")
		return
	}
	if p.FinalMessage != nil {
		msg := *p.FinalMessage
		a.open.FinalMessage = &msg
	}
	a.closeOpen(StageCompleted)
}

func (a *Aggregator) closeOpen(status StageStatus) {
	a.open.Status = status
	a.stages = append(a.stages, a.open)
	a.open = nil
}

func (a *Aggregator) skip(ev core.Event, reason string) {
	err := &core.AggregationError{EventID: ev.ID, Kind: ev.Kind, Reason: reason}
	a.skipped = append(a.skipped, err)
	a.logger.Warn("trace.event.skipped", "event_id", ev.ID, "kind", string(ev.Kind), "reason", reason)
}

// MarkOpenFailed flags the currently open stage as Failed and closes it out of
// the completed list. It returns the failed stage's name, if any.
func (a *Aggregator) MarkOpenFailed() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open == nil {
		return "", false
	}
	name := a.open.AgentName
	a.open.Status = StageFailed
	a.open = nil
	return name, true
}

// Stages returns copies of the closed stage traces in order.
func (a *Aggregator) Stages() []StageTrace {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]StageTrace, 0, len(a.stages))
	for _, s := range a.stages {
		out = append(out, s.clone())
	}
	return out
}

// Open returns a copy of the currently open stage, if any.
func (a *Aggregator) Open() (StageTrace, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open == nil {
		return StageTrace{}, false
	}
	return a.open.clone(), true
}

// FinalMessage returns the recorded workflow final message.
func (a *Aggregator) FinalMessage() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalMessage == nil {
		return "", false
	}
	return *a.finalMessage, true
}

// Skipped returns the AggregationErrors recorded so far.
func (a *Aggregator) Skipped() []*core.AggregationError {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]*core.AggregationError(nil), a.skipped...)
}
