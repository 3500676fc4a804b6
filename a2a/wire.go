package a2a

import (
	"encoding/json"
	"errors"

	"github.com/hupe1980/factorymesh/core"
)

// ContentTypeNDJSON is the media type of the invoke response stream.
const ContentTypeNDJSON = "application/x-ndjson"

// InvokeRequest is the body POSTed to the invoke endpoint.
type InvokeRequest struct {
	RunID        string            `json:"run_id,omitempty"`
	Stage        string            `json:"stage,omitempty"`
	Conversation core.Conversation `json:"conversation"`
}

// errorFrame terminates a stream with a failure.
type errorFrame struct {
	Error string `json:"error"`
}

// RemoteError is a failure reported by the remote stage itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote stage: " + e.Message }

// decodeFrame parses one stream line into either an event or a remote error.
func decodeFrame(line []byte) (core.Event, error) {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return core.Event{}, err
	}
	if probe.Error != nil {
		return core.Event{}, &RemoteError{Message: *probe.Error}
	}

	var ev core.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return core.Event{}, err
	}
	return ev, nil
}

// isRemoteError reports whether err came from an error frame.
func isRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
