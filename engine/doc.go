// Package engine implements the workflow executor of factorymesh.
//
// An Engine takes a pipeline of stages (see package pipeline) and a request,
// and runs the stages strictly in sequence. Each stage receives the
// conversation accumulated so far; its final message is appended before the
// next stage starts.
//
// # Event stream
//
// The engine is the only author of stage boundaries. For every stage it emits
// StageStarted, forwards the stage's tool call and text events, and emits
// StageCompleted once the stage returned. Boundary events a stage reports on
// its own are consumed (the final message) or dropped. After the last stage a
// WorkflowFinalMessage carries the last assistant message.
//
// # Failure model
//
// The first stage error or timeout stops the run; there is no retry.
// Cancelling the run context, or calling Cancel with the run id, abandons
// the in-flight stage and the run ends as Cancelled. Panics raised while
// driving a stage are converted into stage errors.
//
// # Results
//
// Run folds the stream through a trace.Aggregator, assembles the
// WorkflowResult and hands it to every registered ResultSink (run history,
// notifications). Invoke does the same in the background and streams the
// events on a channel.
//
// Basic usage:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Pipelines = &pipeline.Builder{Registry: reg, Mandatory: pipeline.DefaultMandatory()}
//	    o.Logger = logger
//	})
//
//	res, err := eng.Run(ctx, core.Request{ID: "unit-1"})
package engine
