package agent

import (
	"context"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// StageFunc is the body of a FuncAgent. It receives a private copy of the
// conversation and reports progress through emit.
type StageFunc func(ctx context.Context, conv core.Conversation, emit core.Emitter) error

// FuncAgentOptions configures a FuncAgent.
type FuncAgentOptions struct {
	Description string
	Logger      logging.Logger
}

// FuncAgent adapts a plain Go function into a local pipeline stage.
type FuncAgent struct {
	BaseAgent
	fn     StageFunc
	logger logging.Logger
}

// NewFuncAgent wraps fn as a stage called name.
func NewFuncAgent(name string, fn StageFunc, optFns ...func(o *FuncAgentOptions)) *FuncAgent {
	opts := FuncAgentOptions{}
	for _, f := range optFns {
		f(&opts)
	}

	a := &FuncAgent{BaseAgent: NewBaseAgent(name), fn: fn, logger: logging.Ensure(opts.Logger)}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}

	return a
}

// Invoke implements core.Agent.
func (a *FuncAgent) Invoke(ctx context.Context, conv core.Conversation) (<-chan core.Event, <-chan error) {
	conv = conv.Clone()
	return invoke(ctx, a.Name(), a.logger, func(ctx context.Context, emit core.Emitter) error {
		return a.fn(ctx, conv, emit)
	})
}
