// Package tool implements the function calling subsystem that lets model
// driven stages invoke structured capabilities (telemetry lookups, threshold
// queries, work order creation) with schema validated arguments and
// consistent error handling.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hupe1980/factorymesh/internal/util"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/model"
)

// Tool defines the interface for extending a stage with external functions.
//
// Implementations should provide a snake_case name, a description written
// for the model, and a JSON schema for their parameters. Tools may be called
// concurrently by different runs and must be safe for that.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with already decoded arguments. Call metadata
	// is available through CallInfoFrom(ctx).
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Error codes attached to ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeBadInput   = "INVALID_ARGUMENTS"
)

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// CallInfo describes the invocation a tool runs under.
type CallInfo struct {
	Stage  string
	CallID string
	Logger logging.Logger
}

type callInfoKey struct{}

// WithCallInfo attaches call metadata to ctx.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFrom returns the call metadata attached to ctx. The returned Logger
// is never nil.
func CallInfoFrom(ctx context.Context) CallInfo {
	info, _ := ctx.Value(callInfoKey{}).(CallInfo)
	info.Logger = logging.Ensure(info.Logger)
	return info
}

// Set is an immutable name-indexed collection of tools.
type Set struct {
	byName map[string]Tool
	names  []string
}

// NewSet indexes tools by name. Duplicate names are rejected.
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := s.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		s.byName[t.Name()] = t
		s.names = append(s.names, t.Name())
	}
	sort.Strings(s.names)
	return s, nil
}

// Get looks up a tool by name.
func (s *Set) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Len returns the number of tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Definitions renders the tools as model tool definitions, sorted by name.
func (s *Set) Definitions() []model.ToolDefinition {
	if s == nil {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(s.names))
	for _, name := range s.names {
		t := s.byName[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// ParseArguments decodes the raw JSON arguments produced by a model. Empty
// input yields an empty map.
func ParseArguments(name, raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolError{Tool: name, Message: fmt.Sprintf("arguments are not a JSON object: %v", err), Code: CodeBadInput}
	}
	return args, nil
}
