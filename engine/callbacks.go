package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/factorymesh/core"
)

// CallbackType names a lifecycle point of a run where callbacks execute.
type CallbackType string

const (
	// CallbackBeforeStage runs after StageStarted is emitted and before the
	// stage is invoked. A non-nil error fails the stage without invoking it.
	CallbackBeforeStage CallbackType = "before_stage"

	// CallbackAfterStage runs once a stage completed successfully.
	CallbackAfterStage CallbackType = "after_stage"

	// CallbackOnError runs when a stage failed or timed out.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect about the current
// stage.
type CallbackContext struct {
	RunID        string
	StageIndex   int
	StageName    string
	Backend      core.BackendKind
	FinalMessage string
	Duration     time.Duration
	Err          error
	CallbackType CallbackType
}

// Callback is a hook executed at one CallbackType.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback wraps fn as a callback of the given type.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cbCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the callback's lifecycle point.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager groups callbacks by type. Registration is expected to
// happen before the engine starts serving runs.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager returns an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds callback under its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.callbacks[callback.Type()] = append(cm.callbacks[callback.Type()], callback)
}

// ExecuteCallbacks runs the callbacks of callbackType in registration order
// and stops at the first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cbCtx.CallbackType = callbackType
	for _, callback := range cm.callbacks[callbackType] {
		if err := callback.Execute(ctx, cbCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback writes a one-line summary of each stage transition.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a LoggingCallback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type returns the callback's lifecycle point.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute formats and forwards the summary.
func (c *LoggingCallback) Execute(_ context.Context, cbCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] run=%s stage=%d:%s", c.callbackType, cbCtx.RunID, cbCtx.StageIndex, cbCtx.StageName)
	if cbCtx.Err != nil {
		msg += " err=" + cbCtx.Err.Error()
	}
	c.logger(msg)
	return nil
}
