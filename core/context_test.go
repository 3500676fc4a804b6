package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunID(t *testing.T) {
	assert.Empty(t, RunIDFrom(context.Background()))

	ctx := WithRunID(context.Background(), "run-1")
	assert.Equal(t, "run-1", RunIDFrom(ctx))

	child, cancel := context.WithCancel(ctx)
	defer cancel()
	assert.Equal(t, "run-1", RunIDFrom(child))
}
