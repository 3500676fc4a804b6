package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	// KindStageStarted opens a new stage trace.
	KindStageStarted EventKind = "stage_started"
	// KindToolCallRequested records a tool invocation issued by the active stage.
	KindToolCallRequested EventKind = "tool_call_requested"
	// KindToolCallResult carries the outcome of a previously requested tool call.
	KindToolCallResult EventKind = "tool_call_result"
	// KindTextDelta is an incremental chunk of streamed stage output.
	KindTextDelta EventKind = "text_delta"
	// KindStageCompleted closes the active stage trace.
	KindStageCompleted EventKind = "stage_completed"
	// KindWorkflowFinalMessage carries the last assistant message of the run.
	KindWorkflowFinalMessage EventKind = "workflow_final_message"
)

// EventPayload is the closed set of execution event payloads. Concrete payload
// types implement the unexported isEventPayload marker.
type EventPayload interface {
	isEventPayload()
	kind() EventKind
}

// StageStarted announces that the named stage began executing.
type StageStarted struct {
	Name string `json:"name"`
}

func (StageStarted) isEventPayload() {}
func (StageStarted) kind() EventKind { return KindStageStarted }

// ToolCallRequested records a tool call request. Arguments are opaque and
// recorded as produced by the stage.
type ToolCallRequested struct {
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments,omitempty"`
}

func (ToolCallRequested) isEventPayload() {}
func (ToolCallRequested) kind() EventKind { return KindToolCallRequested }

// ToolCallResult carries the (opaque) result of a tool call. It holds no call
// identifier; correlation with its request is inferred from arrival order.
type ToolCallResult struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ToolCallResult) isEventPayload() {}
func (ToolCallResult) kind() EventKind { return KindToolCallResult }

// TextDelta is a streamed output fragment of the active stage.
type TextDelta struct {
	Text string `json:"text"`
}

func (TextDelta) isEventPayload() {}
func (TextDelta) kind() EventKind { return KindTextDelta }

// StageCompleted closes the active stage. FinalMessage is nil when the stage
// produced no final message.
type StageCompleted struct {
	FinalMessage *string `json:"final_message,omitempty"`
}

func (StageCompleted) isEventPayload() {}
func (StageCompleted) kind() EventKind { return KindStageCompleted }

// WorkflowFinalMessage carries the last assistant-authored message of the run.
type WorkflowFinalMessage struct {
	Text string `json:"text"`
}

func (WorkflowFinalMessage) isEventPayload() {}
func (WorkflowFinalMessage) kind() EventKind { return KindWorkflowFinalMessage }

// UnknownPayload holds an event whose kind could not be decoded. It is never
// produced by constructors; consumers are expected to log and skip it.
type UnknownPayload struct {
	Kind EventKind `json:"-"`
	Raw  []byte    `json:"-"`
}

func (UnknownPayload) isEventPayload()   {}
func (u UnknownPayload) kind() EventKind { return u.Kind }

// Event is one entry of the linear execution stream of a run. After emission
// it should be treated as immutable.
type Event struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id,omitempty"`
	Kind      EventKind    `json:"kind"`
	Payload   EventPayload `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewEvent wraps payload into an Event with a fresh ID and UTC timestamp.
func NewEvent(payload EventPayload) Event {
	e := Event{
		ID:        NewID(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		e.Kind = payload.kind()
	}
	return e
}

// NewStageStartedEvent opens the stage called name.
func NewStageStartedEvent(name string) Event { return NewEvent(StageStarted{Name: name}) }

// NewToolCallRequestedEvent records a request for toolName with raw arguments.
func NewToolCallRequestedEvent(toolName, arguments string) Event {
	return NewEvent(ToolCallRequested{ToolName: toolName, Arguments: arguments})
}

// NewToolCallResultEvent records a tool outcome. A non-nil err is copied into
// the Error field.
func NewToolCallResultEvent(result any, err error) Event {
	p := ToolCallResult{Result: result}
	if err != nil {
		p.Error = err.Error()
	}
	return NewEvent(p)
}

// NewTextDeltaEvent records a streamed text fragment.
func NewTextDeltaEvent(text string) Event { return NewEvent(TextDelta{Text: text}) }

// NewStageCompletedEvent closes the active stage. An empty finalMessage is
// recorded as absent.
func NewStageCompletedEvent(finalMessage string) Event {
	p := StageCompleted{}
	if finalMessage != "" {
		p.FinalMessage = &finalMessage
	}
	return NewEvent(p)
}

// NewWorkflowFinalMessageEvent records the run's final assistant message.
func NewWorkflowFinalMessageEvent(text string) Event {
	return NewEvent(WorkflowFinalMessage{Text: text})
}

// NewID generates a new unique identifier for events, runs and calls.
func NewID() string { return uuid.NewString() }

// WithRunID returns a copy of e bound to runID.
func (e Event) WithRunID(runID string) Event {
	e.RunID = runID
	return e
}

// Valid reports whether the payload is present, known and agrees with Kind.
func (e Event) Valid() bool {
	if e.Payload == nil {
		return false
	}
	if _, unknown := e.Payload.(UnknownPayload); unknown {
		return false
	}
	return e.Payload.kind() == e.Kind
}

// IsStageBoundary reports whether e opens or closes a stage.
func (e Event) IsStageBoundary() bool {
	return e.Kind == KindStageStarted || e.Kind == KindStageCompleted
}
