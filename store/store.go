package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/factorymesh/trace"
)

// ErrNotFound is returned when no run with the given id was stored.
var ErrNotFound = errors.New("run not found")

// Store persists finished WorkflowResults keyed by run id.
type Store interface {
	Save(ctx context.Context, res *trace.WorkflowResult) error
	Get(ctx context.Context, runID string) (*trace.WorkflowResult, error)
	// List returns the most recent results first. An empty requestID matches
	// every request; limit <= 0 means no limit.
	List(ctx context.Context, requestID string, limit int) ([]*trace.WorkflowResult, error)
	// HandleResult saves res, so a Store can be registered as an engine
	// result sink.
	HandleResult(ctx context.Context, res *trace.WorkflowResult) error
	Close() error
}

func encode(res *trace.WorkflowResult) ([]byte, error) {
	if res == nil {
		return nil, errors.New("nil result")
	}
	if res.RunID == "" {
		return nil, errors.New("result has no run id")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result %s: %w", res.RunID, err)
	}
	return data, nil
}

func decode(data []byte) (*trace.WorkflowResult, error) {
	var res trace.WorkflowResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
