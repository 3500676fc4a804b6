package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/model"
	"github.com/hupe1980/factorymesh/tool"
)

// ErrTurnLimit reports a stage whose model kept requesting tools past
// ModelAgentOptions.MaxIterations.
var ErrTurnLimit = errors.New("exceeded max model turns")

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description     string
	Instruction     Instruction
	Vars            map[string]any // template variables for a static Instruction
	Tools           []tool.Tool
	EnableStreaming bool
	ToolTimeout     time.Duration
	MaxIterations   int // model turns per invocation; <= 0 means unlimited
	Logger          logging.Logger
}

// ModelAgent is a local stage driven by a language model and a set of tools.
//
// One invocation loops: generate, stream text as TextDelta events, run each
// requested tool (ToolCallRequested then ToolCallResult), and feed the
// results back, until the model answers without tool calls. The final answer
// is reported with StageCompleted.
type ModelAgent struct {
	BaseAgent
	llm             model.Model
	instruction     Instruction
	vars            map[string]any
	tools           *tool.Set
	enableStreaming bool
	toolTimeout     time.Duration
	maxIterations   int
	logger          logging.Logger
}

// NewModelAgent creates a model-backed stage with defaults: streaming on,
// 15s tool timeout, at most 8 model turns.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) (*ModelAgent, error) {
	opts := ModelAgentOptions{
		Instruction:     NewInstructionFromText(fmt.Sprintf("You are %s, a factory maintenance assistant.", name)),
		EnableStreaming: true,
		ToolTimeout:     15 * time.Second,
		MaxIterations:   8,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tools, err := tool.NewSet(opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	a := &ModelAgent{
		BaseAgent:       NewBaseAgent(name),
		llm:             llm,
		instruction:     opts.Instruction,
		vars:            opts.Vars,
		tools:           tools,
		enableStreaming: opts.EnableStreaming,
		toolTimeout:     opts.ToolTimeout,
		maxIterations:   opts.MaxIterations,
		logger:          logging.Ensure(opts.Logger),
	}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}

	return a, nil
}

// Model returns the underlying model.
func (a *ModelAgent) Model() model.Model { return a.llm }

// HasTool reports whether a tool is registered under name.
func (a *ModelAgent) HasTool(name string) bool {
	_, ok := a.tools.Get(name)
	return ok
}

// Invoke implements core.Agent.
func (a *ModelAgent) Invoke(ctx context.Context, conv core.Conversation) (<-chan core.Event, <-chan error) {
	conv = conv.Clone()
	return invoke(ctx, a.Name(), a.logger, func(ctx context.Context, emit core.Emitter) error {
		return a.run(ctx, conv, emit)
	})
}

func (a *ModelAgent) run(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
	instructions, err := a.instruction.Resolve(ctx, conv, a.vars)
	if err != nil {
		return fmt.Errorf("resolve instructions: %w", err)
	}

	req := model.Request{
		Instructions: instructions,
		Contents:     toContents(conv),
		Tools:        a.tools.Definitions(),
		Stream:       a.enableStreaming,
	}

	info := a.llm.Info()

	for turn := 1; ; turn++ {
		if a.maxIterations > 0 && turn > a.maxIterations {
			return fmt.Errorf("%w: %d", ErrTurnLimit, a.maxIterations)
		}

		start := time.Now()
		final, err := a.generate(ctx, req, emit)
		a.logger.Debug("agent.model.turn", "stage", a.Name(), "model", info.Name, "turn", turn,
			"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
		if err != nil {
			return err
		}

		req.Contents = append(req.Contents, final)

		calls := final.ToolCalls()
		if len(calls) == 0 {
			return emit.Emit(ctx, core.NewStageCompletedEvent(strings.TrimSpace(final.Text())))
		}

		results := model.Content{Role: model.RoleTool}
		for _, call := range calls {
			part, err := a.callTool(ctx, call, emit)
			if err != nil {
				return err
			}
			results.Parts = append(results.Parts, part)
		}
		req.Contents = append(req.Contents, results)
	}
}

// generate performs one model turn, forwarding text as TextDelta events, and
// returns the final (non-partial) content.
func (a *ModelAgent) generate(ctx context.Context, req model.Request, emit core.Emitter) (model.Content, error) {
	respCh, errCh := a.llm.Generate(ctx, req)

	var (
		final    *model.Content
		streamed bool
	)

	for resp := range respCh {
		if resp.Partial {
			if text := resp.Content.Text(); text != "" {
				streamed = true
				if err := emit.Emit(ctx, core.NewTextDeltaEvent(text)); err != nil {
					return model.Content{}, err
				}
			}
			continue
		}
		c := resp.Content
		final = &c
	}

	if err, ok := <-errCh; ok && err != nil {
		return model.Content{}, fmt.Errorf("model %s: %w", a.llm.Info().Name, err)
	}
	if err := ctx.Err(); err != nil {
		return model.Content{}, err
	}
	if final == nil {
		return model.Content{}, errors.New("model returned no final response")
	}

	if !streamed {
		if text := final.Text(); text != "" {
			if err := emit.Emit(ctx, core.NewTextDeltaEvent(text)); err != nil {
				return model.Content{}, err
			}
		}
	}

	return *final, nil
}

// callTool emits the request, runs the tool and emits its result before the
// next call is requested, so every result directly follows its request in
// the event stream.
func (a *ModelAgent) callTool(ctx context.Context, call model.ToolCall, emit core.Emitter) (model.ToolResultPart, error) {
	if err := emit.Emit(ctx, core.NewToolCallRequestedEvent(call.Name, call.Arguments)); err != nil {
		return model.ToolResultPart{}, err
	}

	result, callErr := a.executeTool(ctx, call)

	if err := emit.Emit(ctx, core.NewToolCallResultEvent(result, callErr)); err != nil {
		return model.ToolResultPart{}, err
	}

	part := model.ToolResultPart{CallID: call.ID, Name: call.Name, Result: result}
	if callErr != nil {
		part.Error = callErr.Error()
	}

	return part, nil
}

func (a *ModelAgent) executeTool(ctx context.Context, call model.ToolCall) (any, error) {
	impl, ok := a.tools.Get(call.Name)
	if !ok {
		return nil, tool.NewToolError(call.Name, "tool not found", tool.CodeNotFound)
	}

	args, err := tool.ParseArguments(call.Name, call.Arguments)
	if err != nil {
		return nil, err
	}

	if a.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.toolTimeout)
		defer cancel()
	}

	ctx = tool.WithCallInfo(ctx, tool.CallInfo{Stage: a.Name(), CallID: call.ID, Logger: a.logger})

	start := time.Now()
	result, err := impl.Call(ctx, args)
	a.logger.Info("agent.tool.executed", "stage", a.Name(), "tool", call.Name,
		"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

	return result, err
}

// toContents maps the shared conversation onto model input. Messages of
// earlier stages are handed over as attributed user turns so that each stage
// starts a fresh exchange with its own model.
func toContents(conv core.Conversation) []model.Content {
	contents := make([]model.Content, 0, conv.Len())
	for _, m := range conv.Messages {
		switch m.Role {
		case core.RoleSystem:
			contents = append(contents, model.NewTextContent(model.RoleSystem, m.Text))
		case core.RoleAssistant:
			author := m.Author
			if author == "" {
				author = "previous stage"
			}
			contents = append(contents, model.NewTextContent(model.RoleUser, fmt.Sprintf("[%s] %s", author, m.Text)))
		default:
			contents = append(contents, model.NewTextContent(model.RoleUser, m.Text))
		}
	}
	return contents
}
