package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/engine"
	"github.com/hupe1980/factorymesh/trace"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestCLI_Serve(t *testing.T) {
	cli, ctx := parse(t, "--config", "factorymesh.toml", "serve", "--listen", ":9000")
	assert.Equal(t, "serve", ctx.Command())
	assert.Equal(t, ":9000", cli.Serve.Listen)
	assert.Equal(t, "factorymesh.toml", filepath.Base(cli.Config))
}

func TestCLI_Host(t *testing.T) {
	cli, ctx := parse(t, "host", "repair_planner", "--public-url", "http://planner:8081")
	assert.Equal(t, "host <stage>", ctx.Command())
	assert.Equal(t, "repair_planner", cli.Host.Stage)
	assert.Equal(t, ":8081", cli.Host.Listen)
	assert.Equal(t, "http://planner:8081", cli.Host.PublicURL)
}

func TestCLI_Run(t *testing.T) {
	cli, _ := parse(t, "run", "--id", "machine-001", "--payload", `{"curing_temperature": 186}`, "--run-id", "r1", "--events")
	assert.Equal(t, "machine-001", cli.Run.ID)
	assert.Equal(t, "r1", cli.Run.RunID)
	assert.True(t, cli.Run.Events)

	req, err := cli.Run.request()
	require.NoError(t, err)
	assert.Equal(t, core.Request{ID: "machine-001", Payload: map[string]any{"curing_temperature": 186.0}}, req)
}

func TestRunCmd_RequestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"machine-002","payload":{"drum_vibration":5.2}}`), 0o600))

	req, err := (&RunCmd{File: path}).request()
	require.NoError(t, err)
	assert.Equal(t, "machine-002", req.ID)
	assert.Equal(t, 5.2, req.Payload["drum_vibration"])
}

func TestRunCmd_RequestErrors(t *testing.T) {
	_, err := (&RunCmd{}).request()
	assert.Error(t, err)

	_, err = (&RunCmd{ID: "m", Payload: "[1,2]"}).request()
	assert.ErrorContains(t, err, "parse payload")

	_, err = (&RunCmd{File: filepath.Join(t.TempDir(), "missing.json")}).request()
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, &trace.WorkflowResult{RunID: "r1", Status: trace.RunCompleted, Stages: []trace.StageTrace{}}))
	assert.Contains(t, buf.String(), `"run_id": "r1"`)
	assert.Contains(t, buf.String(), `"status": "completed"`)
}

func TestRunCmd_EventsToWriter(t *testing.T) {
	var buf bytes.Buffer
	cmd := &RunCmd{RunID: "r7", Events: true}

	var o engine.RunOptions
	cmd.runOptions(&buf)(&o)
	assert.Equal(t, "r7", o.RunID)
	require.NotNil(t, o.OnEvent)

	o.OnEvent(core.NewTextDeltaEvent("hello"))
	assert.Contains(t, buf.String(), `"kind":"text_delta"`)

	var quiet engine.RunOptions
	(&RunCmd{}).runOptions(&buf)(&quiet)
	assert.Nil(t, quiet.OnEvent)
}
