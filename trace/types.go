package trace

import (
	"time"
)

// StageStatus is the lifecycle state of one StageTrace.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// RunStatus is the terminal state of a WorkflowResult.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// ToolCallRecord is one tool invocation observed inside a stage. Result stays
// unset (Completed=false) until a matching ToolCallResult arrives.
type ToolCallRecord struct {
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	Completed bool   `json:"completed"`
}

// StageTrace is the structured record of one stage's execution. It is
// append-only while the stage is open.
type StageTrace struct {
	AgentName    string           `json:"agent_name"`
	ToolCalls    []ToolCallRecord `json:"tool_calls"`
	TextOutput   string           `json:"text_output"`
	FinalMessage *string          `json:"final_message,omitempty"`
	Status       StageStatus      `json:"status"`
}

func newStageTrace(name string) *StageTrace {
	return &StageTrace{AgentName: name, ToolCalls: []ToolCallRecord{}, Status: StageRunning}
}

// clone returns a deep copy so that results handed out never alias reducer
// state.
func (s *StageTrace) clone() StageTrace {
	c := *s
	c.ToolCalls = append([]ToolCallRecord{}, s.ToolCalls...)
	if s.FinalMessage != nil {
		msg := *s.FinalMessage
		c.FinalMessage = &msg
	}
	return c
}

// Failure locates the stage that stopped a run.
type Failure struct {
	StageIndex int    `json:"stage_index"`
	StageName  string `json:"stage_name,omitempty"`
	Message    string `json:"message"`
}

// WorkflowResult is the boundary-facing outcome of one run. It is created
// once per run and must not be mutated after it is returned.
type WorkflowResult struct {
	RunID        string       `json:"run_id,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`
	Stages       []StageTrace `json:"stages"`
	FinalMessage *string      `json:"final_message,omitempty"`
	Status       RunStatus    `json:"status"`
	Failure      *Failure     `json:"failure,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// StageNames lists the agent names of the recorded stages in order.
func (r *WorkflowResult) StageNames() []string {
	names := make([]string, len(r.Stages))
	for i, s := range r.Stages {
		names[i] = s.AgentName
	}
	return names
}
