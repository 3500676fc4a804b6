package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_KindFollowsPayload(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		kind EventKind
	}{
		{"stage started", NewStageStartedEvent("diagnosis"), KindStageStarted},
		{"tool requested", NewToolCallRequestedEvent("get_machine", `{"id":"m1"}`), KindToolCallRequested},
		{"tool result", NewToolCallResultEvent("ok", nil), KindToolCallResult},
		{"text delta", NewTextDeltaEvent("hel"), KindTextDelta},
		{"stage completed", NewStageCompletedEvent("done"), KindStageCompleted},
		{"final message", NewWorkflowFinalMessageEvent("bye"), KindWorkflowFinalMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.ev.Kind)
			assert.NotEmpty(t, tt.ev.ID)
			assert.False(t, tt.ev.Timestamp.IsZero())
			assert.True(t, tt.ev.Valid())
		})
	}
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	a := NewTextDeltaEvent("a")
	b := NewTextDeltaEvent("a")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewToolCallResultEvent_CopiesError(t *testing.T) {
	ev := NewToolCallResultEvent(nil, errors.New("machine not found"))

	p, ok := ev.Payload.(ToolCallResult)
	require.True(t, ok)
	assert.Equal(t, "machine not found", p.Error)
	assert.Nil(t, p.Result)
}

func TestNewStageCompletedEvent_EmptyMessageIsAbsent(t *testing.T) {
	p := NewStageCompletedEvent("").Payload.(StageCompleted)
	assert.Nil(t, p.FinalMessage)

	p = NewStageCompletedEvent("plan ready").Payload.(StageCompleted)
	require.NotNil(t, p.FinalMessage)
	assert.Equal(t, "plan ready", *p.FinalMessage)
}

func TestEvent_Valid(t *testing.T) {
	assert.False(t, Event{Kind: KindTextDelta}.Valid(), "nil payload")
	assert.False(t, Event{Kind: KindTextDelta, Payload: StageStarted{Name: "x"}}.Valid(), "kind mismatch")
	assert.False(t, Event{Kind: "custom", Payload: UnknownPayload{Kind: "custom"}}.Valid(), "unknown payload")
	assert.True(t, NewEvent(StageStarted{Name: "x"}).Valid())
}

func TestEvent_WithRunIDAndBoundaries(t *testing.T) {
	ev := NewStageStartedEvent("repair").WithRunID("run-1")
	assert.Equal(t, "run-1", ev.RunID)
	assert.True(t, ev.IsStageBoundary())
	assert.True(t, NewStageCompletedEvent("").IsStageBoundary())
	assert.False(t, NewTextDeltaEvent("x").IsStageBoundary())
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	events := []Event{
		NewStageStartedEvent("diagnosis").WithRunID("run-7"),
		NewToolCallRequestedEvent("get_thresholds", `{"machine_type":"tire_curing_press"}`),
		NewToolCallResultEvent(map[string]any{"count": float64(2)}, nil),
		NewTextDeltaEvent("Analysing"),
		NewStageCompletedEvent("diagnosed"),
		NewWorkflowFinalMessageEvent("Parts ordered."),
	}

	for _, ev := range events {
		t.Run(string(ev.Kind), func(t *testing.T) {
			data, err := json.Marshal(ev)
			require.NoError(t, err)

			var got Event
			require.NoError(t, json.Unmarshal(data, &got))

			assert.Equal(t, ev.ID, got.ID)
			assert.Equal(t, ev.RunID, got.RunID)
			assert.Equal(t, ev.Kind, got.Kind)
			assert.True(t, ev.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, ev.Payload, got.Payload)
			assert.True(t, got.Valid())
		})
	}
}

func TestEvent_JSONShape(t *testing.T) {
	data, err := json.Marshal(NewStageStartedEvent("scheduler"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "stage_started", raw["kind"])
	assert.Equal(t, map[string]any{"name": "scheduler"}, raw["data"])
	assert.Contains(t, raw, "timestamp")
	assert.NotContains(t, raw, "run_id")
}

func TestEvent_UnmarshalUnknownKind(t *testing.T) {
	in := `{"id":"e1","kind":"heartbeat","data":{"seq":3},"timestamp":"2026-01-02T03:04:05Z"}`

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(in), &ev))

	p, ok := ev.Payload.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, EventKind("heartbeat"), p.Kind)
	assert.JSONEq(t, `{"seq":3}`, string(p.Raw))
	assert.False(t, ev.Valid())

	// unknown payloads re-encode verbatim
	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"data":{"seq":3}`)
}

func TestEvent_UnmarshalMissingData(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":"e2","kind":"stage_completed"}`), &ev))

	p, ok := ev.Payload.(StageCompleted)
	require.True(t, ok)
	assert.Nil(t, p.FinalMessage)
}

func TestEvent_UnmarshalBadPayload(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"e3","kind":"text_delta","data":{"text":42}}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text_delta")
}
