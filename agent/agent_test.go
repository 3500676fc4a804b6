package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/factorymesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects every event of an invocation and its terminal error.
// invoke runs a against conv and collects its events and terminal error.
func invoke(t *testing.T, a core.Agent, ctx context.Context, conv core.Conversation) ([]core.Event, error) {
	t.Helper()

	events, errs := a.Invoke(ctx, conv)
	return drain(t, events, errs)
}

func drain(t *testing.T, events <-chan core.Event, errs <-chan error) ([]core.Event, error) {
	t.Helper()

	var out []core.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out, <-errs
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("invocation did not finish")
			return nil, nil
		}
	}
}

func kinds(events []core.Event) []core.EventKind {
	out := make([]core.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestBaseAgent(t *testing.T) {
	b := NewBaseAgent("fault_diagnosis")

	assert.Equal(t, "fault_diagnosis", b.Name())
	assert.Equal(t, "Agent fault_diagnosis", b.Description())
	assert.Equal(t, core.BackendLocal, b.Backend())

	b.SetDescription("Finds root causes")
	assert.Equal(t, "Finds root causes", b.Description())
}

func TestFuncAgent_EmitsAndCloses(t *testing.T) {
	a := NewFuncAgent("echo", func(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
		last, _ := conv.Last()
		if err := emit.Emit(ctx, core.NewTextDeltaEvent(last.Text)); err != nil {
			return err
		}
		return emit.Emit(ctx, core.NewStageCompletedEvent(last.Text))
	}, func(o *FuncAgentOptions) { o.Description = "echoes input" })

	conv := core.NewConversation(core.Message{Role: core.RoleUser, Text: "hello"})
	events, err := invoke(t, a, context.Background(), conv)

	require.NoError(t, err)
	assert.Equal(t, []core.EventKind{core.KindTextDelta, core.KindStageCompleted}, kinds(events))
	assert.Equal(t, "echoes input", a.Description())
}

func TestFuncAgent_Error(t *testing.T) {
	boom := errors.New("boom")
	a := NewFuncAgent("failing", func(context.Context, core.Conversation, core.Emitter) error { return boom })

	events, err := invoke(t, a, context.Background(), core.Conversation{})

	assert.Empty(t, events)
	assert.ErrorIs(t, err, boom)
}

func TestFuncAgent_RecoversPanic(t *testing.T) {
	a := NewFuncAgent("panicky", func(context.Context, core.Conversation, core.Emitter) error { panic("kaput") })

	_, err := invoke(t, a, context.Background(), core.Conversation{})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "panicky", pe.Stage)
	assert.Equal(t, "kaput", pe.Value)
}

func TestFuncAgent_DoesNotMutateCallerConversation(t *testing.T) {
	a := NewFuncAgent("mutator", func(_ context.Context, conv core.Conversation, _ core.Emitter) error {
		conv.Append(core.Message{Role: core.RoleAssistant, Text: "sneaky"})
		conv.Messages[0].Text = "changed"
		return nil
	})

	conv := core.NewConversation(core.Message{Role: core.RoleUser, Text: "original"})
	_, err := invoke(t, a, context.Background(), conv)

	require.NoError(t, err)
	assert.Equal(t, 1, conv.Len())
	assert.Equal(t, "original", conv.Messages[0].Text)
}

func TestFuncAgent_StopsOnCancel(t *testing.T) {
	a := NewFuncAgent("blocking", func(ctx context.Context, _ core.Conversation, _ core.Emitter) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	events, errs := a.Invoke(ctx, core.Conversation{})
	cancel()

	_, err := drain(t, events, errs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstruction(t *testing.T) {
	static := NewInstructionFromText("Inspect {{.machine_type}} machines")
	assert.True(t, static.IsStatic())

	text, err := static.Resolve(context.Background(), core.Conversation{}, map[string]any{"machine_type": "tire_curing_press"})
	require.NoError(t, err)
	assert.Equal(t, "Inspect tire_curing_press machines", text)

	dynamic := NewInstructionFromFunc(func(_ context.Context, conv core.Conversation) (string, error) {
		return "messages: " + string(rune('0'+conv.Len())), nil
	})
	assert.False(t, dynamic.IsStatic())

	text, err = dynamic.Resolve(context.Background(), core.NewConversation(core.Message{Text: "x"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "messages: 1", text)
}
