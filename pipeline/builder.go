package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/hupe1980/factorymesh/a2a"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// Stage names of the factory maintenance pipeline, in execution order.
const (
	StageAnomalyClassification = "anomaly_classification"
	StageFaultDiagnosis        = "fault_diagnosis"
	StageRepairPlanner         = "repair_planner"
	StageMaintenanceScheduler  = "maintenance_scheduler"
	StagePartsOrdering         = "parts_ordering"
)

// DefaultMandatory lists the local stages every run requires.
func DefaultMandatory() []string {
	return []string{StageAnomalyClassification, StageFaultDiagnosis}
}

// OptionalStage is a remote stage addressed by base URL. An empty BaseURL
// means the stage is not deployed.
type OptionalStage struct {
	Name    string `toml:"name" yaml:"name" json:"name"`
	BaseURL string `toml:"url" yaml:"url" json:"url"`
}

// Builder assembles a Pipeline from mandatory local stages followed by
// optional remote stages, preserving the configured order.
type Builder struct {
	Registry   *Registry
	Mandatory  []string
	Optional   []OptionalStage
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Build resolves every stage. A missing mandatory stage or a duplicate name
// fails with a ConfigurationError. Unreachable optional stages are logged and
// omitted.
func (b *Builder) Build(ctx context.Context) (*Pipeline, error) {
	logger := logging.Ensure(b.Logger)
	seen := make(map[string]bool, len(b.Mandatory)+len(b.Optional))
	p := &Pipeline{}

	add := func(a core.Agent) error {
		if seen[a.Name()] {
			return &core.ConfigurationError{Stage: a.Name(), Err: core.ErrDuplicateStage}
		}
		seen[a.Name()] = true
		p.stages = append(p.stages, a)
		return nil
	}

	for _, name := range b.Mandatory {
		var (
			a  core.Agent
			ok bool
		)
		if b.Registry != nil {
			a, ok = b.Registry.Lookup(name)
		}
		if !ok {
			return nil, &core.ConfigurationError{Stage: name, Err: core.ErrUnknownStage}
		}
		if err := add(a); err != nil {
			return nil, err
		}
	}

	for _, opt := range b.Optional {
		if seen[opt.Name] {
			return nil, &core.ConfigurationError{Stage: opt.Name, Err: core.ErrDuplicateStage}
		}
		if opt.BaseURL == "" {
			logger.Debug("pipeline.stage.absent", "stage", opt.Name)
			continue
		}

		remote, err := a2a.Resolve(ctx, opt.Name, opt.BaseURL, func(o *a2a.ClientOptions) {
			o.HTTPClient = b.HTTPClient
			o.Logger = logger
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var resErr *core.AgentResolutionError
			if errors.As(err, &resErr) {
				logger.Warn("pipeline.stage.unresolved", "stage", opt.Name, "url", opt.BaseURL, "error", resErr.Err.Error())
				continue
			}
			return nil, err
		}

		if err := add(remote); err != nil {
			return nil, err
		}
	}

	logger.Debug("pipeline.built", "stages", p.Names())

	return p, nil
}
