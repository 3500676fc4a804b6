package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/factorymesh/agent"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/model"
	"github.com/hupe1980/factorymesh/tool"
)

// StageOptions configure NewStage.
type StageOptions struct {
	// Model drives the stage. Nil selects the rule-based implementation.
	Model model.Model
	// Instruction overrides the stage's default instruction.
	Instruction string
	// Vars are template variables of the instruction.
	Vars            map[string]any
	Description     string
	EnableStreaming bool
	ToolTimeout     time.Duration
	MaxIterations   int
	Logger          logging.Logger
}

// NewStage builds one pipeline stage over the catalogue. With a model the
// stage is a ModelAgent using the stage's tools; without one it is a
// deterministic rule-based stage. Rule-based stages exist only for the five
// known stage names.
func NewStage(name string, cat *Catalogue, optFns ...func(o *StageOptions)) (core.Agent, error) {
	if cat == nil {
		cat = &Catalogue{}
	}
	opts := StageOptions{EnableStreaming: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Model == nil {
		return newRuleStage(name, cat, opts)
	}

	instruction := opts.Instruction
	if instruction == "" {
		var ok bool
		if instruction, ok = DefaultInstruction(name); !ok {
			return nil, fmt.Errorf("stage %s: no instruction configured", name)
		}
	}

	a, err := agent.NewModelAgent(name, opts.Model, func(o *agent.ModelAgentOptions) {
		o.Description = opts.Description
		o.Instruction = agent.NewInstructionFromText(instruction)
		o.Vars = opts.Vars
		o.Tools = ToolsFor(name, cat)
		o.EnableStreaming = opts.EnableStreaming
		o.Logger = opts.Logger
		if opts.ToolTimeout > 0 {
			o.ToolTimeout = opts.ToolTimeout
		}
		if opts.MaxIterations > 0 {
			o.MaxIterations = opts.MaxIterations
		}
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

type ruleFunc func(r *ruleStage, ctx context.Context, conv core.Conversation, c *caller) (string, error)

var rules = map[string]ruleFunc{
	StageAnomalyClassification: (*ruleStage).classify,
	StageFaultDiagnosis:        (*ruleStage).diagnose,
	StageRepairPlanner:         (*ruleStage).planRepair,
	StageMaintenanceScheduler:  (*ruleStage).schedule,
	StagePartsOrdering:         (*ruleStage).orderParts,
}

type ruleStage struct {
	name   string
	tools  *tool.Set
	logger logging.Logger
}

func newRuleStage(name string, cat *Catalogue, opts StageOptions) (core.Agent, error) {
	rule, ok := rules[name]
	if !ok {
		return nil, fmt.Errorf("stage %s: no rule-based implementation, configure a model", name)
	}
	tools, err := tool.NewSet(ToolsFor(name, cat)...)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}

	r := &ruleStage{name: name, tools: tools, logger: logging.Ensure(opts.Logger)}

	desc := opts.Description
	if desc == "" {
		desc = fmt.Sprintf("Rule-based %s stage", name)
	}

	return agent.NewFuncAgent(name, func(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := &caller{stage: name, tools: r.tools, emit: emit, logger: r.logger}
		text, err := rule(r, ctx, conv, c)
		if err != nil {
			return err
		}
		return complete(ctx, emit, text)
	}, func(o *agent.FuncAgentOptions) {
		o.Description = desc
		o.Logger = opts.Logger
	}), nil
}
