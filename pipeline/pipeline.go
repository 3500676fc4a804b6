package pipeline

import "github.com/hupe1980/factorymesh/core"

// Pipeline is an ordered list of uniquely named stages. It is only created by
// Builder.Build and is read-only afterwards.
type Pipeline struct {
	stages []core.Agent
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stage returns the stage at index i.
func (p *Pipeline) Stage(i int) core.Agent { return p.stages[i] }

// Stages returns a copy of the stage list.
func (p *Pipeline) Stages() []core.Agent {
	return append([]core.Agent(nil), p.stages...)
}

// Names returns the stage names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}
