package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEvent is the JSON envelope of an Event. The payload stays raw until
// the kind is known.
type wireEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id,omitempty"`
	Kind      EventKind       `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON encodes the event envelope with its payload under "data".
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{ID: e.ID, RunID: e.RunID, Kind: e.Kind, Timestamp: e.Timestamp}

	switch p := e.Payload.(type) {
	case nil:
	case UnknownPayload:
		w.Data = p.Raw
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		w.Data = data
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes an event. Unknown kinds decode into UnknownPayload
// instead of failing so that a single unrecognised entry does not poison a
// whole stream.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	e.ID, e.RunID, e.Kind, e.Timestamp = w.ID, w.RunID, w.Kind, w.Timestamp

	payload, err := decodePayload(w.Kind, w.Data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Kind, err)
	}

	e.Payload = payload

	return nil
}

func decodePayload(kind EventKind, data json.RawMessage) (EventPayload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch kind {
	case KindStageStarted:
		var p StageStarted
		err := json.Unmarshal(data, &p)
		return p, err
	case KindToolCallRequested:
		var p ToolCallRequested
		err := json.Unmarshal(data, &p)
		return p, err
	case KindToolCallResult:
		var p ToolCallResult
		err := json.Unmarshal(data, &p)
		return p, err
	case KindTextDelta:
		var p TextDelta
		err := json.Unmarshal(data, &p)
		return p, err
	case KindStageCompleted:
		var p StageCompleted
		err := json.Unmarshal(data, &p)
		return p, err
	case KindWorkflowFinalMessage:
		var p WorkflowFinalMessage
		err := json.Unmarshal(data, &p)
		return p, err
	default:
		return UnknownPayload{Kind: kind, Raw: append([]byte(nil), data...)}, nil
	}
}
