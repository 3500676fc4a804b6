package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/model"
	"github.com/hupe1980/factorymesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockModel lets tests script Generate with testify expectations.
type MockModel struct{ mock.Mock }

func (m *MockModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	args := m.Called(ctx, req)

	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)

	if err := args.Error(1); err != nil {
		errCh <- err
	} else if resp, ok := args.Get(0).(model.Response); ok {
		respCh <- resp
	}

	close(respCh)
	close(errCh)

	return respCh, errCh
}

func (m *MockModel) Info() model.Info {
	return model.Info{Name: "mock", Provider: "mock"}
}

func thresholdsTool() tool.Tool {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"machine_type": map[string]any{"type": "string"}},
		"required":   []string{"machine_type"},
	}
	return tool.NewFunctionTool("get_thresholds", "thresholds", params, func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"machine_type": args["machine_type"], "temperature_max": 178.0}, nil
	})
}

func userConversation(text string) core.Conversation {
	return core.NewConversation(core.Message{Role: core.RoleUser, Text: text})
}

func TestModelAgent_ToolLoop(t *testing.T) {
	llm := model.NewScriptedModel("scripted",
		model.Turn{ToolCalls: []model.ToolCall{{ID: "c1", Name: "get_thresholds", Arguments: `{"machine_type":"tire_curing_press"}`}}},
		model.Turn{Text: "Anomaly detected"},
	)

	a, err := NewModelAgent("anomaly_classification", llm, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{thresholdsTool()}
		o.EnableStreaming = false
	})
	require.NoError(t, err)

	events, err := invoke(t, a, context.Background(), userConversation("Event for unit-1."))
	require.NoError(t, err)

	assert.Equal(t, []core.EventKind{
		core.KindToolCallRequested,
		core.KindToolCallResult,
		core.KindTextDelta,
		core.KindStageCompleted,
	}, kinds(events))

	req := events[0].Payload.(core.ToolCallRequested)
	assert.Equal(t, "get_thresholds", req.ToolName)

	res := events[1].Payload.(core.ToolCallResult)
	assert.Empty(t, res.Error)
	assert.Equal(t, 178.0, res.Result.(map[string]any)["temperature_max"])

	done := events[3].Payload.(core.StageCompleted)
	require.NotNil(t, done.FinalMessage)
	assert.Equal(t, "Anomaly detected", *done.FinalMessage)

	requests := llm.Requests()
	require.Len(t, requests, 2)
	require.Len(t, requests[0].Tools, 1)
	last := requests[1].Contents[len(requests[1].Contents)-1]
	assert.Equal(t, model.RoleTool, last.Role)
	part := last.Parts[0].(model.ToolResultPart)
	assert.Equal(t, "c1", part.CallID)
}

func TestModelAgent_StreamsText(t *testing.T) {
	llm := model.NewScriptedModel("scripted", model.Turn{Text: "No action needed"})

	a, err := NewModelAgent("fault_diagnosis", llm)
	require.NoError(t, err)

	events, err := invoke(t, a, context.Background(), userConversation("hi"))
	require.NoError(t, err)

	var text string
	for _, ev := range events {
		if d, ok := ev.Payload.(core.TextDelta); ok {
			text += d.Text
		}
	}
	assert.Equal(t, "No action needed", text)
	assert.Equal(t, core.KindStageCompleted, events[len(events)-1].Kind)
}

func TestModelAgent_UnknownToolReportedAsResult(t *testing.T) {
	llm := model.NewScriptedModel("scripted",
		model.Turn{ToolCalls: []model.ToolCall{{ID: "c1", Name: "does_not_exist"}}},
		model.Turn{Text: "I don't know"},
	)

	a, err := NewModelAgent("fault_diagnosis", llm, func(o *ModelAgentOptions) { o.EnableStreaming = false })
	require.NoError(t, err)

	events, err := invoke(t, a, context.Background(), userConversation("hi"))
	require.NoError(t, err)

	res := events[1].Payload.(core.ToolCallResult)
	assert.Contains(t, res.Error, "tool not found")
}

func TestModelAgent_MaxIterations(t *testing.T) {
	loop := model.Turn{ToolCalls: []model.ToolCall{{ID: "c", Name: "get_thresholds", Arguments: `{"machine_type":"x"}`}}}
	llm := model.NewScriptedModel("scripted", loop, loop, loop)

	a, err := NewModelAgent("anomaly_classification", llm, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{thresholdsTool()}
		o.MaxIterations = 2
	})
	require.NoError(t, err)

	_, err = invoke(t, a, context.Background(), userConversation("hi"))
	assert.ErrorIs(t, err, ErrTurnLimit)
	assert.ErrorContains(t, err, "exceeded max model turns: 2")
	assert.Len(t, llm.Requests(), 2)
}

func TestModelAgent_UnlimitedTurns(t *testing.T) {
	loop := model.Turn{ToolCalls: []model.ToolCall{{ID: "c", Name: "get_thresholds", Arguments: `{"machine_type":"x"}`}}}
	llm := model.NewScriptedModel("scripted", loop, loop, loop, model.Turn{Text: "done"})

	a, err := NewModelAgent("anomaly_classification", llm, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{thresholdsTool()}
		o.MaxIterations = 0
	})
	require.NoError(t, err)

	events, err := invoke(t, a, context.Background(), userConversation("hi"))
	require.NoError(t, err)
	assert.Len(t, llm.Requests(), 4)

	last := events[len(events)-1].Payload.(core.StageCompleted)
	require.NotNil(t, last.FinalMessage)
	assert.Equal(t, "done", *last.FinalMessage)
}

func TestModelAgent_ModelError(t *testing.T) {
	llm := new(MockModel)
	llm.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

	a, err := NewModelAgent("fault_diagnosis", llm)
	require.NoError(t, err)

	events, err := invoke(t, a, context.Background(), userConversation("hi"))

	assert.Empty(t, events)
	assert.ErrorContains(t, err, "rate limited")
	llm.AssertExpectations(t)
}

func TestModelAgent_NoFinalResponse(t *testing.T) {
	llm := new(MockModel)
	llm.On("Generate", mock.Anything, mock.Anything).Return(nil, nil)

	a, err := NewModelAgent("fault_diagnosis", llm)
	require.NoError(t, err)

	_, err = invoke(t, a, context.Background(), userConversation("hi"))
	assert.ErrorContains(t, err, "no final response")
}

func TestModelAgent_InstructionsAndHandOff(t *testing.T) {
	llm := new(MockModel)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req model.Request) bool {
		return req.Instructions == "Diagnose press-7" && len(req.Contents) == 2 &&
			req.Contents[1].Text() == "[anomaly_classification] temperature warning"
	})).Return(model.Response{Content: model.NewTextContent(model.RoleAssistant, "worn heating element")}, nil)

	a, err := NewModelAgent("fault_diagnosis", llm, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("Diagnose {{.machine}}")
		o.Vars = map[string]any{"machine": "press-7"}
	})
	require.NoError(t, err)

	conv := userConversation("Event for press-7.")
	conv.Append(core.Message{Role: core.RoleAssistant, Author: "anomaly_classification", Text: "temperature warning"})

	events, err := invoke(t, a, context.Background(), conv)
	require.NoError(t, err)

	done := events[len(events)-1].Payload.(core.StageCompleted)
	assert.Equal(t, "worn heating element", *done.FinalMessage)
	llm.AssertExpectations(t)
}

func TestNewModelAgent_DuplicateTools(t *testing.T) {
	_, err := NewModelAgent("x", model.NewScriptedModel("s"), func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{thresholdsTool(), thresholdsTool()}
	})
	assert.Error(t, err)
}
