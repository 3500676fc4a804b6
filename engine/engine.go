package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/pipeline"
	"github.com/hupe1980/factorymesh/telemetry"
	"github.com/hupe1980/factorymesh/trace"
)

// State is the lifecycle position of one run.
type State int

const (
	// StateIdle is a registered run that has not started a stage yet.
	StateIdle State = iota
	// StateRunning is a run with a stage in flight.
	StateRunning
	// StateCompleted is a run whose stages all completed.
	StateCompleted
	// StateFailed is a run stopped by a stage error, a timeout or a
	// configuration error.
	StateFailed
	// StateCancelled is a run interrupted by its caller.
	StateCancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunStatus maps a terminal state to the result status. Non-terminal states
// map to the empty status.
func (s State) RunStatus() trace.RunStatus {
	switch s {
	case StateCompleted:
		return trace.RunCompleted
	case StateFailed:
		return trace.RunFailed
	case StateCancelled:
		return trace.RunCancelled
	default:
		return ""
	}
}

// Config holds engine tuning parameters.
type Config struct {
	// StageTimeout bounds each stage invocation. Zero disables the bound.
	StageTimeout time.Duration
	// MaxConcurrentRuns bounds the number of runs executing at once. Zero
	// disables the bound.
	MaxConcurrentRuns int
	// EventBufferSize is the buffer of the event channel returned by Invoke.
	EventBufferSize int
}

// DefaultConfig provides sensible defaults for the engine configuration.
var DefaultConfig = Config{
	StageTimeout:      120 * time.Second,
	MaxConcurrentRuns: 16,
	EventBufferSize:   64,
}

// PipelineFactory produces the pipeline for a run. *pipeline.Builder
// satisfies it.
type PipelineFactory interface {
	Build(ctx context.Context) (*pipeline.Pipeline, error)
}

// StaticPipeline is a PipelineFactory returning a prebuilt pipeline.
type StaticPipeline struct {
	Pipeline *pipeline.Pipeline
}

// Build returns the wrapped pipeline.
func (s StaticPipeline) Build(context.Context) (*pipeline.Pipeline, error) {
	if s.Pipeline == nil {
		return nil, &core.ConfigurationError{Err: errors.New("no pipeline configured")}
	}
	return s.Pipeline, nil
}

// ResultSink receives every assembled WorkflowResult. Sink errors are logged
// and never change the result.
type ResultSink interface {
	HandleResult(ctx context.Context, res *trace.WorkflowResult) error
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(ctx context.Context, res *trace.WorkflowResult) error

// HandleResult calls f.
func (f ResultSinkFunc) HandleResult(ctx context.Context, res *trace.WorkflowResult) error {
	return f(ctx, res)
}

// Options configure an Engine.
type Options struct {
	Config    Config
	Pipelines PipelineFactory
	Sinks     []ResultSink
	Callbacks *CallbackManager
	Tracer    *telemetry.Tracer
	Logger    logging.Logger
}

// Engine drives pipelines stage by stage and turns each run into a
// WorkflowResult. It is safe for concurrent use; every run owns its own
// conversation and aggregator.
type Engine struct {
	config    Config
	pipelines PipelineFactory
	sinks     []ResultSink
	callbacks *CallbackManager
	tracer    *telemetry.Tracer
	logger    logging.Logger
	sem       *semaphore.Weighted

	runsMu sync.Mutex
	runs   map[string]*activeRun
}

// New creates an Engine. Without a PipelineFactory every Run fails with a
// ConfigurationError.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		config:    opts.Config,
		pipelines: opts.Pipelines,
		sinks:     opts.Sinks,
		callbacks: opts.Callbacks,
		tracer:    telemetry.Ensure(opts.Tracer),
		logger:    logging.Ensure(opts.Logger),
		runs:      make(map[string]*activeRun),
	}
	if e.pipelines == nil {
		e.pipelines = StaticPipeline{}
	}
	if e.config.MaxConcurrentRuns > 0 {
		e.sem = semaphore.NewWeighted(int64(e.config.MaxConcurrentRuns))
	}
	return e
}

// AddSink registers an additional result sink. It must be called before the
// engine serves runs.
func (e *Engine) AddSink(s ResultSink) { e.sinks = append(e.sinks, s) }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Outcome is the executor's report for one pipeline execution.
// FailedIndex is -1 unless State is StateFailed with a stage to blame.
type Outcome struct {
	State       State
	FailedIndex int
	FailedStage string
	Err         error
}

// Execute runs the stages of p strictly in order. It is the sole author of
// StageStarted and StageCompleted events: stage-authored boundary events are
// never forwarded, so every tool call a stage reports lands in the stage the
// engine opened. All events are stamped with runID and handed to emit in
// arrival order.
//
// The first stage error or timeout stops the run (no retry). Cancelling ctx
// abandons the in-flight stage and yields StateCancelled.
func (e *Engine) Execute(ctx context.Context, runID string, p *pipeline.Pipeline, req core.Request, emit func(core.Event)) Outcome {
	send := func(ev core.Event) {
		if ev.ID == "" {
			ev.ID = core.NewID()
		}
		emit(ev.WithRunID(runID))
	}

	ctx = core.WithRunID(ctx, runID)
	conv := core.NewConversation(req.Message())

	for i := 0; i < p.Len(); i++ {
		if ctx.Err() != nil {
			return Outcome{State: StateCancelled, FailedIndex: -1, Err: ctx.Err()}
		}

		stage := p.Stage(i)
		send(core.NewStageStartedEvent(stage.Name()))

		start := time.Now()
		final, err := e.runStage(ctx, runID, i, stage, conv, send)
		dur := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				e.logStage(runID, stage.Name(), i, dur, StateCancelled, nil)
				return Outcome{State: StateCancelled, FailedIndex: -1, Err: ctx.Err()}
			}
			e.logStage(runID, stage.Name(), i, dur, StateFailed, err)
			return Outcome{State: StateFailed, FailedIndex: i, FailedStage: stage.Name(), Err: err}
		}

		e.logStage(runID, stage.Name(), i, dur, StateCompleted, nil)
		send(core.NewStageCompletedEvent(final))

		if final != "" {
			conv.Append(core.Message{Role: core.RoleAssistant, Author: stage.Name(), Text: final})
		}
	}

	if last, ok := conv.LastAssistant(); ok {
		send(core.NewWorkflowFinalMessageEvent(last.Text))
	}

	return Outcome{State: StateCompleted, FailedIndex: -1}
}

// runStage invokes one stage under the stage timeout and forwards its
// events. It returns the stage's final message: the one it reported on
// StageCompleted, or else its accumulated text output.
func (e *Engine) runStage(
	ctx context.Context,
	runID string,
	index int,
	stage core.Agent,
	conv core.Conversation,
	send func(core.Event),
) (final string, err error) {
	stageCtx, cancel := e.stageContext(ctx)
	defer cancel()

	stageCtx, span := e.tracer.StartStage(stageCtx, index, stage.Name(), stage.Backend().String())

	cbCtx := &CallbackContext{RunID: runID, StageIndex: index, StageName: stage.Name(), Backend: stage.Backend()}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
		if err != nil {
			err = e.stageError(ctx, stageCtx, index, stage.Name(), err)
			cbCtx.Err, cbCtx.Duration = err, time.Since(start)
			if cbErr := e.callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), CallbackOnError, cbCtx); cbErr != nil {
				e.logger.Warn("engine.callback.failed", "run_id", runID, "stage", stage.Name(), "error", cbErr.Error())
			}
			status := StateFailed
			if ctx.Err() != nil {
				status = StateCancelled
			}
			telemetry.End(span, status.String(), err)
			return
		}
		cbCtx.FinalMessage, cbCtx.Duration = final, time.Since(start)
		if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterStage, cbCtx); cbErr != nil {
			e.logger.Warn("engine.callback.failed", "run_id", runID, "stage", stage.Name(), "error", cbErr.Error())
		}
		telemetry.End(span, StateCompleted.String(), nil)
	}()

	if err := e.callbacks.ExecuteCallbacks(stageCtx, CallbackBeforeStage, cbCtx); err != nil {
		return "", err
	}

	e.logger.Debug("engine.stage.start", "run_id", runID, "stage", stage.Name(), "index", index, "backend", stage.Backend().String())

	events, errs := stage.Invoke(stageCtx, conv.Clone())

	var (
		reported *string
		text     strings.Builder
	)

	for events != nil {
		select {
		case <-stageCtx.Done():
			return "", stageCtx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch p := ev.Payload.(type) {
			case core.StageCompleted:
				if p.FinalMessage != nil {
					msg := *p.FinalMessage
					reported = &msg
				}
			case core.StageStarted, core.WorkflowFinalMessage:
				e.logger.Debug("engine.event.dropped", "run_id", runID, "stage", stage.Name(), "kind", string(ev.Kind))
			case core.TextDelta:
				text.WriteString(p.Text)
				send(ev)
			default:
				send(ev)
			}
		}
	}

	select {
	case <-stageCtx.Done():
		return "", stageCtx.Err()
	case err, ok := <-errs:
		if ok && err != nil {
			return "", err
		}
	}

	if reported != nil {
		return *reported, nil
	}
	return strings.TrimSpace(text.String()), nil
}

func (e *Engine) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.StageTimeout > 0 {
		return context.WithTimeout(ctx, e.config.StageTimeout)
	}
	return context.WithCancel(ctx)
}

// stageError normalises a stage failure. Cancellation of the parent context
// is returned as is; an expired stage deadline becomes ErrStageTimeout.
func (e *Engine) stageError(parent, stageCtx context.Context, index int, name string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", core.ErrStageTimeout, e.config.StageTimeout)
	}
	var se *core.StageExecutionError
	if errors.As(err, &se) {
		return se
	}
	return &core.StageExecutionError{Index: index, Stage: name, Err: err}
}

func (e *Engine) logStage(runID, name string, index int, dur time.Duration, state State, err error) {
	if ml, ok := e.logger.(*logging.MeshLogger); ok {
		ml.WithRun(runID).LogStage(name, index, dur, state.String(), err)
		return
	}
	args := []any{"run_id", runID, "stage", name, "index", index, "duration", dur, "status", state.String()}
	if err != nil {
		e.logger.Error("engine.stage.failed", append(args, "error", err.Error())...)
		return
	}
	e.logger.Info("engine.stage.finished", args...)
}

// RunOptions tune a single Run.
type RunOptions struct {
	// RunID overrides the generated run identifier.
	RunID string
	// OnEvent observes every emitted event after the aggregator applied it.
	OnEvent func(core.Event)

	// stream receives every event; sends give up once the run ends or is
	// cancelled, so an unread stream never outlives Cancel.
	stream chan<- core.Event
}

// Run builds the pipeline, executes it for req and assembles the result. The
// result is handed to every ResultSink before it is returned.
//
// Run returns a non-nil error only when req is invalid (nil result) or the
// pipeline could not be built (a Failed result with stage index -1 alongside
// the *core.ConfigurationError).
func (e *Engine) Run(ctx context.Context, req core.Request, optFns ...func(o *RunOptions)) (*trace.WorkflowResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RunID == "" {
		opts.RunID = core.NewID()
	}
	runID := opts.RunID
	startedAt := time.Now().UTC()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run, err := e.register(runID, req.ID, startedAt, cancel)
	if err != nil {
		return nil, err
	}
	defer e.unregister(runID)

	agg := trace.NewAggregator(e.logger)
	finish := func(out Outcome) *trace.WorkflowResult {
		if out.State != StateCompleted {
			if name, ok := agg.MarkOpenFailed(); ok && out.FailedStage == "" && out.State == StateFailed {
				out.FailedStage = name
			}
		}
		run.setState(out.State, "")
		res := trace.Assemble(agg, trace.Outcome{
			Status:      out.State.RunStatus(),
			FailedIndex: out.FailedIndex,
			FailedStage: out.FailedStage,
			Err:         out.Err,
			RunID:       runID,
			RequestID:   req.ID,
			StartedAt:   startedAt,
			FinishedAt:  time.Now().UTC(),
		})
		e.logger.Info("engine.run.finished", "run_id", runID, "request_id", req.ID, "status", string(res.Status), "stages", len(res.Stages))
		e.dispatch(ctx, res)
		return res
	}

	if e.sem != nil {
		if err := e.sem.Acquire(runCtx, 1); err != nil {
			return finish(Outcome{State: StateCancelled, FailedIndex: -1, Err: err}), nil
		}
		defer e.sem.Release(1)
	}

	p, err := e.pipelines.Build(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			return finish(Outcome{State: StateCancelled, FailedIndex: -1, Err: runCtx.Err()}), nil
		}
		out := Outcome{State: StateFailed, FailedIndex: -1, Err: err}
		var cfgErr *core.ConfigurationError
		if errors.As(err, &cfgErr) {
			out.FailedStage = cfgErr.Stage
		} else {
			err = &core.ConfigurationError{Err: err}
			out.Err = err
		}
		e.logger.Error("engine.pipeline.failed", "run_id", runID, "error", err.Error())
		return finish(out), err
	}

	spanCtx, span := e.tracer.StartRun(runCtx, runID, req.ID, p.Len())
	e.logger.Info("engine.run.start", "run_id", runID, "request_id", req.ID, "stages", strings.Join(p.Names(), ","))

	out := e.Execute(spanCtx, runID, p, req, func(ev core.Event) {
		agg.Apply(ev)
		if sp, ok := ev.Payload.(core.StageStarted); ok {
			run.setState(StateRunning, sp.Name)
		}
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		if opts.stream != nil {
			select {
			case opts.stream <- ev:
			case <-runCtx.Done():
			}
		}
	})
	telemetry.End(span, out.State.String(), out.Err)

	return finish(out), nil
}

// Completion is the terminal report of an Invoke.
type Completion struct {
	Result *trace.WorkflowResult
	Err    error
}

// Invoke starts a run in the background and streams its events. The events
// channel is buffered with Config.EventBufferSize and closed when the run
// ends; the completion channel then delivers exactly one Completion.
//
// An unread stream stalls the run once the buffer is full; cancelling ctx or
// calling Cancel with the run id releases it.
func (e *Engine) Invoke(ctx context.Context, req core.Request, optFns ...func(o *RunOptions)) (string, <-chan core.Event, <-chan Completion) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.RunID == "" {
		opts.RunID = core.NewID()
	}

	bufferSize := e.config.EventBufferSize
	if bufferSize < 0 {
		bufferSize = 0
	}
	events := make(chan core.Event, bufferSize)
	done := make(chan Completion, 1)

	go func() {
		defer close(done)

		res, err := e.Run(ctx, req, func(o *RunOptions) {
			o.RunID = opts.RunID
			o.OnEvent = opts.OnEvent
			o.stream = events
		})
		close(events)
		done <- Completion{Result: res, Err: err}
	}()

	return opts.RunID, events, done
}

func (e *Engine) dispatch(ctx context.Context, res *trace.WorkflowResult) {
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range e.sinks {
		if err := s.HandleResult(sinkCtx, res); err != nil {
			e.logger.Warn("engine.sink.failed", "run_id", res.RunID, "error", err.Error())
		}
	}
}

type activeRun struct {
	cancel    context.CancelFunc
	requestID string
	startedAt time.Time

	mu    sync.Mutex
	state State
	stage string
}

func (r *activeRun) setState(s State, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.stage = stage
}

// RunInfo is a snapshot of a live run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id"`
	State     string    `json:"state"`
	Stage     string    `json:"stage,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (e *Engine) register(runID, requestID string, startedAt time.Time, cancel context.CancelFunc) (*activeRun, error) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()

	if _, exists := e.runs[runID]; exists {
		return nil, fmt.Errorf("run %s already active", runID)
	}
	run := &activeRun{cancel: cancel, requestID: requestID, startedAt: startedAt}
	e.runs[runID] = run
	return run, nil
}

func (e *Engine) unregister(runID string) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	delete(e.runs, runID)
}

// Cancel interrupts a live run. The run finishes with status Cancelled.
func (e *Engine) Cancel(runID string) error {
	e.runsMu.Lock()
	run, exists := e.runs[runID]
	e.runsMu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	run.cancel()
	return nil
}

// Active lists the live runs ordered by start time.
func (e *Engine) Active() []RunInfo {
	e.runsMu.Lock()
	infos := make([]RunInfo, 0, len(e.runs))
	for id, r := range e.runs {
		r.mu.Lock()
		infos = append(infos, RunInfo{RunID: id, RequestID: r.requestID, State: r.state.String(), Stage: r.stage, StartedAt: r.startedAt})
		r.mu.Unlock()
	}
	e.runsMu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].RunID < infos[j].RunID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}
