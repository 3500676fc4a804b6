package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LogLevelInfo, lvl)

	lvl, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, LogLevelInfo, lvl)
}

func TestMeshLogger_ScopedAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("engine").
		WithRun("run-1")

	l.Info("engine.stage.start", "stage", "fault_diagnosis")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine.stage.start", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "fault_diagnosis", entry["stage"])
}

func TestMeshLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.LogStage("anomaly_classification", 0, time.Millisecond, "failed", errors.New("boom"))
	assert.Contains(t, buf.String(), "msg=stage.failed")
	assert.Contains(t, buf.String(), "index=0")
	assert.Contains(t, buf.String(), "boom")
}

func TestNewLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf, Component: "host"})

	l.Debug("hidden")
	l.Slog().Info("server.listen")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "host", entry["component"])
	assert.Equal(t, "server.listen", entry["msg"])
}

func TestEnsure(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, Ensure(nil))

	l := NewDefaultSlogLogger()
	assert.Same(t, l, Ensure(l))
}
