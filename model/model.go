package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Roles used inside Content.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part is a polymorphic segment of role-based content. Concrete part types
// implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// ToolCall describes a tool invocation requested by a model. ID is provider
// assigned and only used to pair the call with its result on the next turn.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // raw JSON
}

// ToolCallPart wraps a ToolCall as a content part.
type ToolCallPart struct {
	Call ToolCall `json:"call"`
}

func (ToolCallPart) isPart() {}

// ToolResultPart carries a tool outcome back to the model.
type ToolResultPart struct {
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ToolResultPart) isPart() {}

// Text renders the result as the string handed to a provider.
func (p ToolResultPart) Text() string {
	if p.Error != "" {
		return "error: " + p.Error
	}
	if s, ok := p.Result.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", p.Result)
}

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text concatenates the text parts of c.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls carried by c in order.
func (c Content) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range c.Parts {
		if cp, ok := p.(ToolCallPart); ok {
			calls = append(calls, cp.Call)
		}
	}
	return calls
}

// NewTextContent builds single-part text content.
func NewTextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"`
	Contents     []Content        `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Exactly one
// non-partial response closes a turn; partial chunks only carry text deltas.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Content      Content     `json:"content"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Turn is one scripted model reply.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// ScriptedModel is an in-memory Model replaying a fixed sequence of turns,
// for stage tests. It is not reachable from configuration; offline runs use
// the rule-based stages instead. Once the script is exhausted every call
// answers with Fallback.
type ScriptedModel struct {
	info     Info
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request

	// Fallback is returned after the script runs out.
	Fallback string
}

// NewScriptedModel constructs a ScriptedModel replaying turns in order.
func NewScriptedModel(name string, turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:     Info{Name: name, Provider: "scripted", SupportsTools: true},
		turns:    turns,
		Fallback: "No action needed",
	}
}

// Requests returns the requests seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *ScriptedModel) take(req Request) Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.next >= len(m.turns) {
		return Turn{Text: m.Fallback}
	}
	t := m.turns[m.next]
	m.next++
	return t
}

// Generate implements Model. With req.Stream set, text is emitted word by
// word as partial chunks before the final response.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.take(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream && turn.Text != "" {
			for _, chunk := range strings.SplitAfter(turn.Text, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: NewTextContent(RoleAssistant, chunk)}:
				}
			}
		}

		final := Content{Role: RoleAssistant}
		if turn.Text != "" {
			final.Parts = append(final.Parts, TextPart{Text: turn.Text})
		}
		finish := "stop"
		for _, tc := range turn.ToolCalls {
			final.Parts = append(final.Parts, ToolCallPart{Call: tc})
			finish = "tool_calls"
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- Response{Content: final, FinishReason: finish}:
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *ScriptedModel) Info() Info { return m.info }
