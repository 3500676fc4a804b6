package trace

import (
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/factorymesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_Completed(t *testing.T) {
	events := testutil.NewEventLog().
		StageStarted("A").StageCompleted("a").
		StageStarted("B").StageCompleted("b").
		FinalMessage("b").
		Build()

	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res := Assemble(Reduce(events, nil), Outcome{
		Status:      RunCompleted,
		FailedIndex: -1,
		RunID:       "run-1",
		RequestID:   "unit-1",
		StartedAt:   started,
		FinishedAt:  started.Add(time.Second),
	})

	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, []string{"A", "B"}, res.StageNames())
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "b", *res.FinalMessage)
	assert.Nil(t, res.Failure)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "unit-1", res.RequestID)
}

func TestAssemble_FailedKeepsCompletedPrefix(t *testing.T) {
	events := testutil.NewEventLog().
		StageStarted("A").StageCompleted("").
		StageStarted("B").StageCompleted("").
		StageStarted("C").ToolCall("f", "").
		Build()

	agg := Reduce(events, nil)
	agg.MarkOpenFailed()

	res := Assemble(agg, Outcome{Status: RunFailed, FailedIndex: 2, FailedStage: "C", Err: errors.New("remote unavailable")})

	assert.Equal(t, RunFailed, res.Status)
	assert.Equal(t, []string{"A", "B"}, res.StageNames())
	assert.Nil(t, res.FinalMessage)
	require.NotNil(t, res.Failure)
	assert.Equal(t, 2, res.Failure.StageIndex)
	assert.Equal(t, "C", res.Failure.StageName)
	assert.Equal(t, "remote unavailable", res.Failure.Message)
}

func TestAssemble_FailedWithoutError(t *testing.T) {
	res := Assemble(nil, Outcome{Status: RunFailed, FailedIndex: 0, FailedStage: "A"})

	require.NotNil(t, res.Failure)
	assert.Equal(t, "stage failed", res.Failure.Message)
	assert.Empty(t, res.Stages)
}

func TestAssemble_CancelledOmitsFinalMessage(t *testing.T) {
	events := testutil.NewEventLog().
		StageStarted("A").StageCompleted("").
		StageStarted("B").Text("partial").
		FinalMessage("should not appear").
		Build()

	agg := Reduce(events, nil)
	agg.MarkOpenFailed()

	res := Assemble(agg, Outcome{Status: RunCancelled})

	assert.Equal(t, RunCancelled, res.Status)
	assert.Equal(t, []string{"A"}, res.StageNames())
	assert.Nil(t, res.FinalMessage)
	assert.Nil(t, res.Failure)
}

func TestAssemble_UnknownStatus(t *testing.T) {
	res := Assemble(nil, Outcome{Status: "weird", FailedIndex: -1})

	assert.Equal(t, RunFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "unknown run outcome", res.Failure.Message)
}
