// Package agent contains the in-process stage implementations of a
// factorymesh pipeline.
//
//   - FuncAgent adapts a plain Go function into a stage
//   - ModelAgent drives a language model with tools and streams its progress
//     as execution events
//
// Both embed BaseAgent and satisfy core.Agent, so the executor cannot tell
// them apart from remote stages reached through package a2a.
package agent
