package agent

import (
	"context"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/internal/util"
)

// Provider supplies dynamic instruction text at invocation time.
type Provider interface {
	Instruction(ctx context.Context, conv core.Conversation) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, conv core.Conversation) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, conv core.Conversation) (string, error) {
	return f(ctx, conv)
}

// Instruction is either a static (optionally templated) string or a dynamic
// provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static string. The
// text may reference template variables such as {{.site}}.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, conv core.Conversation) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text. Static text is rendered against vars.
func (i Instruction) Resolve(ctx context.Context, conv core.Conversation, vars map[string]any) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, conv)
	}
	return util.RenderTemplate(i.text, vars)
}
