// Package core provides the foundational types shared by every factorymesh
// component:
//
//   - Agent, the uniform invocation capability of a pipeline stage
//   - Event, the closed set of execution events flowing through a run
//   - Conversation and Request, the context handed between stages
//   - The error taxonomy (configuration, resolution, execution, aggregation)
//
// Concrete agents, the pipeline builder, the executor and the trace reducer
// live in their own packages and depend only on these abstractions.
package core
