package factorymesh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/factorymesh/config"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/domain"
	"github.com/hupe1980/factorymesh/model"
	"github.com/hupe1980/factorymesh/pipeline"
	"github.com/hupe1980/factorymesh/trace"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(subj string, data []byte) error {
	return m.Called(subj, data).Error(0)
}

func TestMesh_RulePipeline(t *testing.T) {
	m, err := New(config.New())
	require.NoError(t, err)
	defer m.Close()

	res, err := m.Run(context.Background(), core.Request{ID: "machine-002"})
	require.NoError(t, err)
	assert.Equal(t, trace.RunCompleted, res.Status)
	assert.Equal(t, pipeline.DefaultMandatory(), res.StageNames())
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, domain.NoActionNeeded, *res.FinalMessage)

	stored, err := m.Store().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, stored.RunID)
}

func TestMesh_Diagnosis(t *testing.T) {
	m, err := New(config.New())
	require.NoError(t, err)
	defer m.Close()

	res, err := m.Run(context.Background(), core.Request{ID: "machine-001"})
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)

	var d domain.Diagnosis
	require.NoError(t, domain.Decode(*res.FinalMessage, &d))
	require.Len(t, d.Findings, 1)
	assert.Equal(t, "heating_element_degradation", d.Findings[0].FaultType)
}

func TestMesh_ModelOverride(t *testing.T) {
	llm := model.NewScriptedModel("scripted", model.Turn{Text: "Everything nominal. No action needed"})

	m, err := New(config.New(), func(o *Options) {
		o.Models = map[string]model.Model{pipeline.StageFaultDiagnosis: llm}
	})
	require.NoError(t, err)
	defer m.Close()

	res, err := m.Run(context.Background(), core.Request{ID: "machine-001"})
	require.NoError(t, err)
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "Everything nominal. No action needed", *res.FinalMessage)

	reqs := llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.FaultDiagnosisInstruction, reqs[0].Instructions)
}

func TestMesh_NotifiesAndPersists(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", "plant.runs.completed", mock.Anything).Return(nil).Once()

	cfg := config.New()
	cfg.NATS.Subject = "plant.runs"
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")

	m, err := New(cfg, func(o *Options) { o.Publisher = pub })
	require.NoError(t, err)

	res, err := m.Run(context.Background(), core.Request{ID: "machine-003"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	pub.AssertExpectations(t)

	reopened, err := New(cfg, func(o *Options) { o.Publisher = pub })
	require.NoError(t, err)
	defer reopened.Close()
	stored, err := reopened.Store().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, trace.RunCompleted, stored.Status)
}

func TestMesh_Handler(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	defer m.Close()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMesh_ConfigurationErrors(t *testing.T) {
	cfg := config.New()
	cfg.Stages[0].Provider = "watson"
	_, err := New(cfg)
	assert.True(t, IsConfigurationError(err))

	cfg = config.New()
	cfg.Stages = append(cfg.Stages, config.StageConfig{Name: "summary", Provider: config.ProviderRules})
	cfg.Pipeline.Mandatory = append(cfg.Pipeline.Mandatory, "summary")
	_, err = New(cfg)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorContains(t, err, "summary")
}

func TestMesh_Stage(t *testing.T) {
	m, err := New(config.New())
	require.NoError(t, err)
	defer m.Close()

	s, err := m.Stage(pipeline.StageRepairPlanner)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageRepairPlanner, s.Name())
	assert.Equal(t, core.BackendLocal, s.Backend())

	_, err = m.Stage("unknown")
	assert.True(t, IsConfigurationError(err))
}

func TestNewModel(t *testing.T) {
	llm, err := NewModel(config.StageConfig{Provider: config.ProviderRules}, config.ProvidersConfig{})
	require.NoError(t, err)
	assert.Nil(t, llm)

	llm, err = NewModel(config.StageConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o"}, config.ProvidersConfig{OpenAI: config.ProviderConfig{APIKey: "sk-test"}})
	require.NoError(t, err)
	assert.Equal(t, "openai", llm.Info().Provider)

	llm, err = NewModel(config.StageConfig{Provider: config.ProviderAnthropic}, config.ProvidersConfig{Anthropic: config.ProviderConfig{APIKey: "sk-ant"}})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", llm.Info().Provider)

	_, err = NewModel(config.StageConfig{Provider: "watson"}, config.ProvidersConfig{})
	assert.Error(t, err)
}
