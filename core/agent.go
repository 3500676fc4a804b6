package core

import (
	"context"
	"fmt"
)

// BackendKind tells where a stage executes.
type BackendKind int

const (
	// BackendLocal is an in-process executor.
	BackendLocal BackendKind = iota
	// BackendRemote is a network-addressed executor reached through a proxy.
	BackendRemote
)

// String returns "local" or "remote".
func (b BackendKind) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (b BackendKind) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *BackendKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "local":
		*b = BackendLocal
	case "remote":
		*b = BackendRemote
	default:
		return fmt.Errorf("unknown backend kind %q", text)
	}
	return nil
}

// Agent is the uniform invocation capability of a pipeline stage. Local and
// remote stages are indistinguishable to the orchestrator beyond this
// interface.
//
// Implementations must:
//   - Close the event channel when the invocation ends
//   - Send at most one terminal error, then close the error channel
//   - Stop emitting and return promptly once ctx is done
//   - Not retain or mutate the conversation after Invoke returns
type Agent interface {
	Name() string
	Description() string
	Backend() BackendKind
	Invoke(ctx context.Context, conv Conversation) (<-chan Event, <-chan error)
}

// Emitter is a send-only view on a stage's event stream.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// ChannelEmitter adapts an event channel to the Emitter interface.
type ChannelEmitter chan<- Event

// Emit sends ev unless ctx is done first.
func (c ChannelEmitter) Emit(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c <- ev:
		return nil
	}
}
