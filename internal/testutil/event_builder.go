package testutil

import (
	"fmt"
	"time"

	"github.com/hupe1980/factorymesh/core"
)

// EventLog provides a fluent helper for constructing execution event logs in
// tests. IDs and timestamps are deterministic so that logs compare equal
// across builds.
//
//	events := NewEventLog().
//		StageStarted("A").ToolCall("f1", `{}`).ToolResult("r1").StageCompleted("").
//		Build()
type EventLog struct {
	runID  string
	events []core.Event
	base   time.Time
}

// NewEventLog creates an empty log with run id "run-test".
func NewEventLog() *EventLog {
	return &EventLog{runID: "run-test", base: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Run overrides the run id stamped on every event (chainable).
func (l *EventLog) Run(id string) *EventLog { l.runID = id; return l }

// Add appends an arbitrary event, normalising its id and timestamp (chainable).
func (l *EventLog) Add(ev core.Event) *EventLog {
	n := len(l.events) + 1
	ev.ID = fmt.Sprintf("ev-%03d", n)
	ev.RunID = l.runID
	ev.Timestamp = l.base.Add(time.Duration(n) * time.Millisecond)
	l.events = append(l.events, ev)
	return l
}

// StageStarted appends a StageStarted event (chainable).
func (l *EventLog) StageStarted(name string) *EventLog {
	return l.Add(core.NewStageStartedEvent(name))
}

// ToolCall appends a ToolCallRequested event (chainable).
func (l *EventLog) ToolCall(name, args string) *EventLog {
	return l.Add(core.NewToolCallRequestedEvent(name, args))
}

// ToolResult appends a successful ToolCallResult event (chainable).
func (l *EventLog) ToolResult(result any) *EventLog {
	return l.Add(core.NewToolCallResultEvent(result, nil))
}

// ToolError appends a failed ToolCallResult event (chainable).
func (l *EventLog) ToolError(err error) *EventLog {
	return l.Add(core.NewToolCallResultEvent(nil, err))
}

// Text appends a TextDelta event (chainable).
func (l *EventLog) Text(t string) *EventLog { return l.Add(core.NewTextDeltaEvent(t)) }

// StageCompleted appends a StageCompleted event; an empty message means none (chainable).
func (l *EventLog) StageCompleted(msg string) *EventLog {
	return l.Add(core.NewStageCompletedEvent(msg))
}

// FinalMessage appends a WorkflowFinalMessage event (chainable).
func (l *EventLog) FinalMessage(t string) *EventLog {
	return l.Add(core.NewWorkflowFinalMessageEvent(t))
}

// Malformed appends an event whose kind does not match its payload (chainable).
func (l *EventLog) Malformed() *EventLog {
	ev := core.NewTextDeltaEvent("corrupt")
	ev.Kind = core.KindStageStarted
	return l.Add(ev)
}

// Unknown appends an event of an unrecognised kind (chainable).
func (l *EventLog) Unknown(kind string) *EventLog {
	return l.Add(core.Event{Kind: core.EventKind(kind), Payload: core.UnknownPayload{Kind: core.EventKind(kind), Raw: []byte(`{}`)}})
}

// Build returns a copy of the collected events.
func (l *EventLog) Build() []core.Event {
	return append([]core.Event(nil), l.events...)
}
