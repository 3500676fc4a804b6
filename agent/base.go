package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// BaseAgent bundles the identity shared by every in-process stage. Embed it
// in concrete agents and supply Invoke to satisfy core.Agent.
type BaseAgent struct {
	name        string
	description string
}

// NewBaseAgent constructs a BaseAgent with a generated description.
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{name: name, description: fmt.Sprintf("Agent %s", name)}
}

// Name returns the stage name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the stage description.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Backend reports BackendLocal; in-process agents always run locally.
func (b *BaseAgent) Backend() core.BackendKind { return core.BackendLocal }

// PanicError is returned when a stage body panics.
type PanicError struct {
	Stage string
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("stage %s panicked: %v", p.Stage, p.Value)
}

// invoke runs body in its own goroutine and adapts it to the core.Agent
// channel contract: the event channel is closed when body returns, at most
// one error is delivered, and panics are recovered into *PanicError.
func invoke(
	ctx context.Context,
	stage string,
	logger logging.Logger,
	body func(ctx context.Context, emit core.Emitter) error,
) (<-chan core.Event, <-chan error) {
	events := make(chan core.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(events)

		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("agent.panic", "stage", stage, "recover", r)
					err = &PanicError{Stage: stage, Value: r, Stack: debug.Stack()}
				}
			}()
			return body(ctx, core.ChannelEmitter(events))
		}()

		if err != nil {
			errs <- err
		}
	}()

	return events, errs
}
