package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/factorymesh/core"
)

// ScriptedAgent is a core.Agent that replays a fixed event script and then
// returns Err. It records the conversations it was invoked with.
type ScriptedAgent struct {
	AgentName string
	Kind      core.BackendKind
	Script    []core.Event
	Err       error
	// Block makes the agent wait for ctx cancellation after the script.
	Block bool
	// Started, if non-nil, is closed once the script has been emitted.
	Started chan struct{}

	mu    sync.Mutex
	calls []core.Conversation
}

// NewScriptedAgent builds a local agent replaying script.
func NewScriptedAgent(name string, script ...core.Event) *ScriptedAgent {
	return &ScriptedAgent{AgentName: name, Script: script}
}

// Name implements core.Agent.
func (a *ScriptedAgent) Name() string { return a.AgentName }

// Description implements core.Agent.
func (a *ScriptedAgent) Description() string { return "scripted " + a.AgentName }

// Backend implements core.Agent.
func (a *ScriptedAgent) Backend() core.BackendKind { return a.Kind }

// Calls returns the conversations received so far.
func (a *ScriptedAgent) Calls() []core.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.Conversation(nil), a.calls...)
}

// Invoke implements core.Agent.
func (a *ScriptedAgent) Invoke(ctx context.Context, conv core.Conversation) (<-chan core.Event, <-chan error) {
	a.mu.Lock()
	a.calls = append(a.calls, conv.Clone())
	a.mu.Unlock()

	events := make(chan core.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		emit := core.ChannelEmitter(events)
		for _, ev := range a.Script {
			if err := emit.Emit(ctx, ev); err != nil {
				errs <- err
				return
			}
		}
		if a.Started != nil {
			close(a.Started)
		}
		if a.Block {
			<-ctx.Done()
			errs <- ctx.Err()
			return
		}
		if a.Err != nil {
			errs <- a.Err
		}
	}()

	return events, errs
}
