package core

import "context"

type runIDKey struct{}

// WithRunID attaches the identifier of the enclosing pipeline run to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run identifier attached to ctx, or "" outside a run.
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
