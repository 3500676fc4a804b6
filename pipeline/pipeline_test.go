package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/factorymesh/a2a"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localRegistry() *Registry {
	return NewRegistry().MustRegister(
		testutil.NewScriptedAgent(StageAnomalyClassification),
		testutil.NewScriptedAgent(StageFaultDiagnosis),
	)
}

func remoteStage(t *testing.T, name string) string {
	t.Helper()
	srv := httptest.NewServer(a2a.NewHandler(testutil.NewScriptedAgent(name)))
	t.Cleanup(srv.Close)
	return srv.URL
}

func deadURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testutil.NewScriptedAgent("b")))
	require.NoError(t, r.Register(testutil.NewScriptedAgent("a")))

	err := r.Register(testutil.NewScriptedAgent("a"))
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, core.ErrDuplicateStage)

	assert.Equal(t, []string{"a", "b"}, r.Names())
	_, ok := r.Lookup("a")
	assert.True(t, ok)

	assert.Panics(t, func() { r.MustRegister(testutil.NewScriptedAgent("b")) })
}

func TestBuild_MandatoryOnly(t *testing.T) {
	b := &Builder{
		Registry:  localRegistry(),
		Mandatory: DefaultMandatory(),
		Optional: []OptionalStage{
			{Name: StageRepairPlanner},
			{Name: StageMaintenanceScheduler},
			{Name: StagePartsOrdering},
		},
	}

	p, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StageAnomalyClassification, StageFaultDiagnosis}, p.Names())
	assert.Equal(t, 2, p.Len())
}

func TestBuild_AllStagesInOrder(t *testing.T) {
	b := &Builder{
		Registry:  localRegistry(),
		Mandatory: DefaultMandatory(),
		Optional: []OptionalStage{
			{Name: StageRepairPlanner, BaseURL: remoteStage(t, StageRepairPlanner)},
			{Name: StageMaintenanceScheduler, BaseURL: remoteStage(t, StageMaintenanceScheduler)},
			{Name: StagePartsOrdering, BaseURL: remoteStage(t, StagePartsOrdering)},
		},
	}

	p, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		StageAnomalyClassification,
		StageFaultDiagnosis,
		StageRepairPlanner,
		StageMaintenanceScheduler,
		StagePartsOrdering,
	}, p.Names())
	assert.Equal(t, core.BackendLocal, p.Stage(0).Backend())
	assert.Equal(t, core.BackendRemote, p.Stage(4).Backend())
}

func TestBuild_UnreachableOptionalOmitted(t *testing.T) {
	log := &testutil.RecordingLogger{}
	b := &Builder{
		Registry:  localRegistry(),
		Mandatory: DefaultMandatory(),
		Optional: []OptionalStage{
			{Name: StageRepairPlanner, BaseURL: deadURL()},
			{Name: StagePartsOrdering, BaseURL: remoteStage(t, StagePartsOrdering)},
		},
		Logger: log,
	}

	p, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StageAnomalyClassification, StageFaultDiagnosis, StagePartsOrdering}, p.Names())
	assert.Equal(t, 1, log.Count("pipeline.stage.unresolved"))
}

func TestBuild_MissingMandatory(t *testing.T) {
	b := &Builder{
		Registry:  NewRegistry().MustRegister(testutil.NewScriptedAgent(StageAnomalyClassification)),
		Mandatory: DefaultMandatory(),
	}

	p, err := b.Build(context.Background())

	assert.Nil(t, p)
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, StageFaultDiagnosis, cfgErr.Stage)
	assert.ErrorIs(t, err, core.ErrUnknownStage)
}

func TestBuild_NilRegistry(t *testing.T) {
	_, err := (&Builder{Mandatory: DefaultMandatory()}).Build(context.Background())
	assert.ErrorIs(t, err, core.ErrUnknownStage)
}

func TestBuild_Duplicates(t *testing.T) {
	b := &Builder{
		Registry:  localRegistry(),
		Mandatory: []string{StageAnomalyClassification, StageAnomalyClassification},
	}
	_, err := b.Build(context.Background())
	assert.ErrorIs(t, err, core.ErrDuplicateStage)

	b = &Builder{
		Registry:  localRegistry(),
		Mandatory: DefaultMandatory(),
		Optional:  []OptionalStage{{Name: StageFaultDiagnosis}},
	}
	_, err = b.Build(context.Background())
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, StageFaultDiagnosis, cfgErr.Stage)
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Builder{
		Registry:  localRegistry(),
		Mandatory: DefaultMandatory(),
		Optional:  []OptionalStage{{Name: StageRepairPlanner, BaseURL: remoteStage(t, StageRepairPlanner)}},
	}

	_, err := b.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_StagesIsCopy(t *testing.T) {
	p, err := (&Builder{Registry: localRegistry(), Mandatory: DefaultMandatory()}).Build(context.Background())
	require.NoError(t, err)

	stages := p.Stages()
	stages[0] = nil
	assert.NotNil(t, p.Stage(0))
}
