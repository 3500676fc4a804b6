// Package pipeline resolves the ordered list of stages a run executes.
//
// Mandatory stages come from an explicit Registry of local agents and must
// all be present. Optional stages are remote and addressed by base URL; each
// is resolved by fetching its agent card and silently dropped from the run
// when that fails. Resolution happens per run.
package pipeline
