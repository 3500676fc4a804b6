package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factorymesh/a2a"
	"github.com/hupe1980/factorymesh/agent"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/internal/testutil"
	"github.com/hupe1980/factorymesh/pipeline"
	"github.com/hupe1980/factorymesh/trace"
)

func builderFor(agents ...core.Agent) *pipeline.Builder {
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	return &pipeline.Builder{
		Registry:  pipeline.NewRegistry().MustRegister(agents...),
		Mandatory: names,
	}
}

func buildPipeline(t *testing.T, agents ...core.Agent) *pipeline.Pipeline {
	t.Helper()
	p, err := builderFor(agents...).Build(context.Background())
	require.NoError(t, err)
	return p
}

func newEngine(cfg Config, agents ...core.Agent) *Engine {
	return New(func(o *Options) {
		o.Config = cfg
		o.Pipelines = builderFor(agents...)
	})
}

func kindsOf(events []core.Event) []core.EventKind {
	kinds := make([]core.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestRun_EndToEnd(t *testing.T) {
	classify := testutil.NewScriptedAgent("anomaly_classification",
		core.NewToolCallRequestedEvent("get_thresholds", `{"machine_type":"press"}`),
		core.NewToolCallResultEvent(map[string]any{"temperature": 80.0}, nil),
		core.NewTextDeltaEvent("temperature "),
		core.NewTextDeltaEvent("above threshold"),
	)
	diagnose := testutil.NewScriptedAgent("fault_diagnosis",
		core.NewStageCompletedEvent("No action needed"),
	)

	eng := newEngine(DefaultConfig, classify, diagnose)

	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, trace.RunCompleted, res.Status)
	assert.Equal(t, "unit-1", res.RequestID)
	assert.NotEmpty(t, res.RunID)
	assert.Nil(t, res.Failure)
	assert.Equal(t, []string{"anomaly_classification", "fault_diagnosis"}, res.StageNames())

	first := res.Stages[0]
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, "get_thresholds", first.ToolCalls[0].ToolName)
	assert.True(t, first.ToolCalls[0].Completed)
	assert.Equal(t, "temperature above threshold", first.TextOutput)
	require.NotNil(t, first.FinalMessage)
	assert.Equal(t, "temperature above threshold", *first.FinalMessage)

	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "No action needed", *res.FinalMessage)

	calls := diagnose.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	assert.Equal(t, core.RoleUser, calls[0].Messages[0].Role)
	assert.Equal(t, "Event for unit-1.", calls[0].Messages[0].Text)
	assert.Equal(t, core.Message{Role: core.RoleAssistant, Author: "anomaly_classification", Text: "temperature above threshold"}, calls[0].Messages[1])
}

func TestExecute_StagesInOrder(t *testing.T) {
	var agents []core.Agent
	for i := 0; i < 5; i++ {
		agents = append(agents, testutil.NewScriptedAgent(fmt.Sprintf("s%d", i),
			core.NewStageCompletedEvent(fmt.Sprintf("out-%d", i)),
		))
	}

	eng := New()
	var events []core.Event
	out := eng.Execute(context.Background(), "run-1", buildPipeline(t, agents...), core.Request{ID: "unit-1"}, func(ev core.Event) {
		events = append(events, ev)
	})

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, -1, out.FailedIndex)
	require.Len(t, events, 11)

	for i := 0; i < 5; i++ {
		started, ok := events[2*i].Payload.(core.StageStarted)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("s%d", i), started.Name)

		completed, ok := events[2*i+1].Payload.(core.StageCompleted)
		require.True(t, ok)
		require.NotNil(t, completed.FinalMessage)
		assert.Equal(t, fmt.Sprintf("out-%d", i), *completed.FinalMessage)
	}

	final, ok := events[10].Payload.(core.WorkflowFinalMessage)
	require.True(t, ok)
	assert.Equal(t, "out-4", final.Text)

	for _, ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
		assert.NotEmpty(t, ev.ID)
	}

	// every later stage sees all earlier final messages
	last := agents[4].(*testutil.ScriptedAgent).Calls()[0]
	assert.Equal(t, 5, last.Len())
}

func TestExecute_DropsStageAuthoredBoundaries(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	stage := testutil.NewScriptedAgent("repair_planner",
		core.NewStageStartedEvent("impostor"),
		core.NewToolCallRequestedEvent("lookup", "{}"),
		core.NewToolCallResultEvent("ok", nil),
		core.NewWorkflowFinalMessageEvent("not yet"),
		core.NewStageCompletedEvent("plan ready"),
	)

	eng := New(func(o *Options) { o.Logger = logger })
	var events []core.Event
	out := eng.Execute(context.Background(), "run-1", buildPipeline(t, stage), core.Request{ID: "unit-1"}, func(ev core.Event) {
		events = append(events, ev)
	})

	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, []core.EventKind{
		core.KindStageStarted,
		core.KindToolCallRequested,
		core.KindToolCallResult,
		core.KindStageCompleted,
		core.KindWorkflowFinalMessage,
	}, kindsOf(events))
	assert.Equal(t, core.StageStarted{Name: "repair_planner"}, events[0].Payload)
	assert.Equal(t, core.WorkflowFinalMessage{Text: "plan ready"}, events[4].Payload)
	assert.Equal(t, 2, logger.Count("engine.event.dropped"))
}

func TestExecute_NoOutput(t *testing.T) {
	silent := testutil.NewScriptedAgent("silent")

	var events []core.Event
	out := New().Execute(context.Background(), "run-1", buildPipeline(t, silent), core.Request{ID: "unit-1"}, func(ev core.Event) {
		events = append(events, ev)
	})

	require.Equal(t, StateCompleted, out.State)
	require.Equal(t, []core.EventKind{core.KindStageStarted, core.KindStageCompleted}, kindsOf(events))
	assert.Nil(t, events[1].Payload.(core.StageCompleted).FinalMessage)

	res := trace.Assemble(trace.Reduce(events, nil), trace.Outcome{Status: trace.RunCompleted})
	assert.Nil(t, res.FinalMessage)
	require.Len(t, res.Stages, 1)
}

func TestRun_FailureAtStage(t *testing.T) {
	a := testutil.NewScriptedAgent("a", core.NewStageCompletedEvent("fine"))
	b := testutil.NewScriptedAgent("b", core.NewToolCallRequestedEvent("probe", "{}"))
	b.Err = errors.New("boom")
	c := testutil.NewScriptedAgent("c")

	eng := newEngine(DefaultConfig, a, b, c)
	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})
	require.NoError(t, err)

	assert.Equal(t, trace.RunFailed, res.Status)
	assert.Equal(t, []string{"a"}, res.StageNames())
	assert.Nil(t, res.FinalMessage)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 1, res.Failure.StageIndex)
	assert.Equal(t, "b", res.Failure.StageName)
	assert.Contains(t, res.Failure.Message, "boom")
	assert.Empty(t, c.Calls())
}

func TestExecute_StageTimeout(t *testing.T) {
	slow := testutil.NewScriptedAgent("slow", core.NewTextDeltaEvent("thinking"))
	slow.Block = true

	eng := New(func(o *Options) { o.Config.StageTimeout = 20 * time.Millisecond })
	out := eng.Execute(context.Background(), "run-1", buildPipeline(t, slow), core.Request{ID: "unit-1"}, func(core.Event) {})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, out.FailedIndex)
	assert.Equal(t, "slow", out.FailedStage)
	assert.ErrorIs(t, out.Err, core.ErrStageTimeout)

	var se *core.StageExecutionError
	require.ErrorAs(t, out.Err, &se)
	assert.True(t, se.Timeout())
	assert.Equal(t, "slow", se.Stage)
}

func TestRun_Cancel(t *testing.T) {
	started := make(chan struct{})
	a := testutil.NewScriptedAgent("a", core.NewStageCompletedEvent("first"))
	b := testutil.NewScriptedAgent("b", core.NewToolCallRequestedEvent("probe", "{}"))
	b.Block = true
	b.Started = started

	eng := newEngine(DefaultConfig, a, b)
	runID, events, done := eng.Invoke(context.Background(), core.Request{ID: "unit-1"}, func(o *RunOptions) {
		o.RunID = "run-x"
	})
	assert.Equal(t, "run-x", runID)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("stage b never started")
	}

	active := eng.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "run-x", active[0].RunID)
	assert.Equal(t, "running", active[0].State)
	assert.Equal(t, "b", active[0].Stage)

	require.NoError(t, eng.Cancel("run-x"))

	var seen []core.Event
	for ev := range events {
		seen = append(seen, ev)
	}
	completion := <-done
	require.NoError(t, completion.Err)

	res := completion.Result
	assert.Equal(t, trace.RunCancelled, res.Status)
	assert.Equal(t, []string{"a"}, res.StageNames())
	assert.Nil(t, res.Failure)
	assert.Nil(t, res.FinalMessage)
	assert.NotEmpty(t, seen)
	assert.Empty(t, eng.Active())
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	stage := testutil.NewScriptedAgent("a")
	stage.Block = true
	stage.Started = started

	go func() {
		<-started
		cancel()
	}()

	res, err := newEngine(DefaultConfig, stage).Run(ctx, core.Request{ID: "unit-1"})
	require.NoError(t, err)
	assert.Equal(t, trace.RunCancelled, res.Status)
	assert.Empty(t, res.Stages)
}

func TestCancel_Unknown(t *testing.T) {
	assert.Error(t, New().Cancel("nope"))
}

func TestRun_RemoteStageSeesRunID(t *testing.T) {
	seen := make(chan string, 1)
	remote := agent.NewFuncAgent(pipeline.StageRepairPlanner, func(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
		seen <- core.RunIDFrom(ctx)
		req, ok := core.ParseRequestMessage(conv.Messages[0])
		if !ok {
			return errors.New("request lost in transit")
		}
		return emit.Emit(ctx, core.NewStageCompletedEvent("planned for "+req.ID))
	})
	srv := httptest.NewServer(a2a.NewHandler(remote))
	defer srv.Close()

	local := testutil.NewScriptedAgent(pipeline.StageAnomalyClassification, core.NewStageCompletedEvent("anomaly"))

	eng := New(func(o *Options) {
		o.Pipelines = &pipeline.Builder{
			Registry:  pipeline.NewRegistry().MustRegister(local),
			Mandatory: []string{pipeline.StageAnomalyClassification},
			Optional:  []pipeline.OptionalStage{{Name: pipeline.StageRepairPlanner, BaseURL: srv.URL}},
		}
	})

	res, err := eng.Run(context.Background(), core.Request{ID: "press 7"}, func(o *RunOptions) { o.RunID = "run-7" })
	require.NoError(t, err)
	require.Equal(t, trace.RunCompleted, res.Status)
	assert.Equal(t, "run-7", <-seen)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "planned for press 7", *res.FinalMessage)
}

func TestRun_RemoteStageAttribution(t *testing.T) {
	remote := testutil.NewScriptedAgent(pipeline.StageRepairPlanner,
		core.NewStageStartedEvent("remote-self"),
		core.NewToolCallRequestedEvent("find_parts", `{"machine_id":"unit-1"}`),
		core.NewToolCallResultEvent("bearing 6204", nil),
		core.NewStageCompletedEvent("replace bearing"),
	)
	srv := httptest.NewServer(a2a.NewHandler(remote))
	defer srv.Close()

	local := testutil.NewScriptedAgent(pipeline.StageAnomalyClassification,
		core.NewToolCallRequestedEvent("get_thresholds", "{}"),
		core.NewToolCallResultEvent("ok", nil),
		core.NewStageCompletedEvent("vibration anomaly"),
	)

	eng := New(func(o *Options) {
		o.Pipelines = &pipeline.Builder{
			Registry:  pipeline.NewRegistry().MustRegister(local),
			Mandatory: []string{pipeline.StageAnomalyClassification},
			Optional:  []pipeline.OptionalStage{{Name: pipeline.StageRepairPlanner, BaseURL: srv.URL}},
		}
	})

	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})
	require.NoError(t, err)
	require.Equal(t, trace.RunCompleted, res.Status)
	require.Equal(t, []string{pipeline.StageAnomalyClassification, pipeline.StageRepairPlanner}, res.StageNames())

	planner := res.Stages[1]
	require.Len(t, planner.ToolCalls, 1)
	assert.Equal(t, "find_parts", planner.ToolCalls[0].ToolName)
	assert.Equal(t, "bearing 6204", planner.ToolCalls[0].Result)
	require.NotNil(t, planner.FinalMessage)
	assert.Equal(t, "replace bearing", *planner.FinalMessage)

	require.Len(t, res.Stages[0].ToolCalls, 1)
	assert.Equal(t, "get_thresholds", res.Stages[0].ToolCalls[0].ToolName)

	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "replace bearing", *res.FinalMessage)

	calls := remote.Calls()
	require.Len(t, calls, 1)
	last, ok := calls[0].LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "vibration anomaly", last.Text)
}

func TestRun_ConcurrentRunsIsolated(t *testing.T) {
	echo := agent.NewFuncAgent("echo", func(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
		msg := conv.Messages[0].Text
		for _, ev := range []core.Event{
			core.NewToolCallRequestedEvent("echo", msg),
			core.NewToolCallResultEvent(msg, nil),
			core.NewTextDeltaEvent(msg),
		} {
			if err := emit.Emit(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})

	eng := newEngine(Config{StageTimeout: time.Second, MaxConcurrentRuns: 4}, echo)

	const runs = 20
	results := make([]*trace.WorkflowResult, runs)

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.Run(context.Background(), core.Request{ID: fmt.Sprintf("unit-%d", i)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, res := range results {
		require.NotNil(t, res)
		want := fmt.Sprintf("Event for unit-%d.", i)

		assert.Equal(t, trace.RunCompleted, res.Status)
		require.Len(t, res.Stages, 1)
		require.Len(t, res.Stages[0].ToolCalls, 1)
		assert.Equal(t, want, res.Stages[0].ToolCalls[0].Arguments)
		assert.Equal(t, want, res.Stages[0].ToolCalls[0].Result)
		assert.Equal(t, want, res.Stages[0].TextOutput)
		require.NotNil(t, res.FinalMessage)
		assert.Equal(t, want, *res.FinalMessage)

		ids[res.RunID] = true
	}
	assert.Len(t, ids, runs)
}

func TestRun_MaxConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	blocker := testutil.NewScriptedAgent("a")
	blocker.Block = true
	blocker.Started = started

	eng := newEngine(Config{MaxConcurrentRuns: 1}, blocker)

	_, events, done := eng.Invoke(context.Background(), core.Request{ID: "unit-1"}, func(o *RunOptions) { o.RunID = "first" })
	go func() {
		for range events {
		}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := eng.Run(ctx, core.Request{ID: "unit-2"})
	require.NoError(t, err)
	assert.Equal(t, trace.RunCancelled, res.Status)
	assert.Empty(t, res.Stages)

	require.NoError(t, eng.Cancel("first"))
	assert.Equal(t, trace.RunCancelled, (<-done).Result.Status)

	// the slot is free again
	blocker.Block = false
	blocker.Started = nil
	res, err = eng.Run(context.Background(), core.Request{ID: "unit-3"})
	require.NoError(t, err)
	assert.Equal(t, trace.RunCompleted, res.Status)
}

func TestInvoke_CancelWithoutDraining(t *testing.T) {
	stage := testutil.NewScriptedAgent("a", core.NewTextDeltaEvent("working"))
	stage.Block = true

	eng := newEngine(Config{}, stage)
	runID, events, done := eng.Invoke(context.Background(), core.Request{ID: "unit-1"})

	require.Eventually(t, func() bool {
		active := eng.Active()
		return len(active) == 1 && active[0].Stage == "a"
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Cancel(runID))

	select {
	case completion := <-done:
		require.NoError(t, completion.Err)
		assert.Equal(t, trace.RunCancelled, completion.Result.Status)
		assert.Empty(t, completion.Result.Stages)
	case <-time.After(2 * time.Second):
		t.Fatal("run still stuck after Cancel")
	}

	for range events {
	}
	assert.Empty(t, eng.Active())
}

func TestRun_ConfigurationError(t *testing.T) {
	var sunk []*trace.WorkflowResult
	eng := New(func(o *Options) {
		o.Pipelines = &pipeline.Builder{Registry: pipeline.NewRegistry(), Mandatory: pipeline.DefaultMandatory()}
		o.Sinks = []ResultSink{ResultSinkFunc(func(_ context.Context, res *trace.WorkflowResult) error {
			sunk = append(sunk, res)
			return nil
		})}
	})

	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})

	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, core.ErrUnknownStage)

	require.NotNil(t, res)
	assert.Equal(t, trace.RunFailed, res.Status)
	assert.Empty(t, res.Stages)
	require.NotNil(t, res.Failure)
	assert.Equal(t, -1, res.Failure.StageIndex)
	assert.Equal(t, pipeline.StageAnomalyClassification, res.Failure.StageName)
	assert.Len(t, sunk, 1)
}

func TestRun_NoPipeline(t *testing.T) {
	res, err := New().Run(context.Background(), core.Request{ID: "unit-1"})

	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, trace.RunFailed, res.Status)
}

func TestRun_InvalidRequest(t *testing.T) {
	res, err := New().Run(context.Background(), core.Request{})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_SinkErrorDoesNotChangeResult(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	stage := testutil.NewScriptedAgent("a", core.NewStageCompletedEvent("ok"))

	eng := New(func(o *Options) {
		o.Pipelines = builderFor(stage)
		o.Logger = logger
	})
	eng.AddSink(ResultSinkFunc(func(context.Context, *trace.WorkflowResult) error {
		return errors.New("disk full")
	}))

	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})
	require.NoError(t, err)
	assert.Equal(t, trace.RunCompleted, res.Status)
	assert.Equal(t, 1, logger.Count("engine.sink.failed"))
}

func TestRun_Callbacks(t *testing.T) {
	var (
		mu    sync.Mutex
		trail []string
	)
	record := func(_ context.Context, cb *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		trail = append(trail, fmt.Sprintf("%s:%s", cb.CallbackType, cb.StageName))
		return nil
	}

	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeStage, record))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterStage, record))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnError, record))
	cm.RegisterCallback(NewFunctionCallback(CallbackBeforeStage, func(_ context.Context, cb *CallbackContext) error {
		if cb.StageName == "b" {
			return errors.New("vetoed")
		}
		return nil
	}))

	a := testutil.NewScriptedAgent("a", core.NewStageCompletedEvent("ok"))
	b := testutil.NewScriptedAgent("b")

	eng := New(func(o *Options) {
		o.Pipelines = builderFor(a, b)
		o.Callbacks = cm
	})

	res, err := eng.Run(context.Background(), core.Request{ID: "unit-1"})
	require.NoError(t, err)

	assert.Equal(t, trace.RunFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "b", res.Failure.StageName)
	assert.Contains(t, res.Failure.Message, "vetoed")
	assert.Empty(t, b.Calls())
	assert.Equal(t, []string{
		"before_stage:a", "after_stage:a",
		"before_stage:b", "on_error:b",
	}, trail)
}

func TestLoggingCallback(t *testing.T) {
	var lines []string
	cb := NewLoggingCallback(CallbackOnError, func(msg string) { lines = append(lines, msg) })

	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{RunID: "r1", StageIndex: 2, StageName: "c", Err: errors.New("x")}))
	assert.Equal(t, CallbackOnError, cb.Type())
	assert.Equal(t, []string{"[on_error] run=r1 stage=2:c err=x"}, lines)
}

type panicAgent struct{}

func (panicAgent) Name() string              { return "panicky" }
func (panicAgent) Description() string       { return "panics on invoke" }
func (panicAgent) Backend() core.BackendKind { return core.BackendLocal }
func (panicAgent) Invoke(context.Context, core.Conversation) (<-chan core.Event, <-chan error) {
	panic("wiring bug")
}

func TestExecute_PanicBecomesStageError(t *testing.T) {
	out := New().Execute(context.Background(), "run-1", buildPipeline(t, panicAgent{}), core.Request{ID: "unit-1"}, func(core.Event) {})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, out.FailedIndex)

	var se *core.StageExecutionError
	require.ErrorAs(t, out.Err, &se)
	assert.Contains(t, se.Error(), "wiring bug")
}

func TestState(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, trace.RunCompleted, StateCompleted.RunStatus())
	assert.Equal(t, trace.RunFailed, StateFailed.RunStatus())
	assert.Equal(t, trace.RunCancelled, StateCancelled.RunStatus())
	assert.Equal(t, trace.RunStatus(""), StateRunning.RunStatus())
}
