// Package factorymesh provides a high-level façade that turns a config.Config
// into a running maintenance pipeline: local stages over the plant catalogue,
// optional remote stages, run history, result notifications and tracing,
// all driven by one engine.Engine. Most applications interact with this
// package by:
//  1. Loading a configuration via config.Load
//  2. Creating a Mesh via New (optionally overriding models or publishers)
//  3. Running requests synchronously (Run) or serving Handler over HTTP
//
// All defaults are safe for local development: rule-based stages, the sample
// plant catalogue and in-memory run history.
package factorymesh

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/factorymesh/config"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/domain"
	"github.com/hupe1980/factorymesh/engine"
	"github.com/hupe1980/factorymesh/logging"
	"github.com/hupe1980/factorymesh/model"
	"github.com/hupe1980/factorymesh/model/anthropic"
	"github.com/hupe1980/factorymesh/model/openai"
	"github.com/hupe1980/factorymesh/notify"
	"github.com/hupe1980/factorymesh/pipeline"
	"github.com/hupe1980/factorymesh/server"
	"github.com/hupe1980/factorymesh/store"
	"github.com/hupe1980/factorymesh/telemetry"
	"github.com/hupe1980/factorymesh/trace"
)

// Version is the build version reported by the server and the CLI.
var Version = "dev"

// Options configures the Mesh instance.
type Options struct {
	// Models overrides the model of individual stages by name. A stage with
	// an override ignores its configured provider.
	Models map[string]model.Model

	// Publisher replaces the NATS connection for result notifications.
	Publisher notify.Publisher

	// Store replaces the configured run history.
	Store store.Store

	// TracerProvider replaces the global OpenTelemetry provider.
	TracerProvider oteltrace.TracerProvider

	// HTTPClient is used to resolve and call remote stages.
	HTTPClient *http.Client

	// Callbacks observe stage lifecycle events.
	Callbacks *engine.CallbackManager

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh is the high-level façade aggregating the engine and its services.
type Mesh struct {
	cfg       *config.Config
	opts      Options
	catalogue *domain.Catalogue
	registry  *pipeline.Registry
	engine    *engine.Engine
	store     store.Store
	notifier  *notify.Notifier
	logger    logging.Logger
}

// New builds a Mesh from cfg. Every mandatory stage is constructed up front;
// remote stages are resolved per run.
func New(cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.Ensure(opts.Logger)

	cat, err := cfg.LoadCatalogue()
	if err != nil {
		return nil, &core.ConfigurationError{Err: err}
	}

	m := &Mesh{cfg: cfg, opts: opts, catalogue: cat, registry: pipeline.NewRegistry(), logger: logger}

	for _, name := range cfg.Pipeline.Mandatory {
		stage, err := m.Stage(name)
		if err != nil {
			return nil, err
		}
		if err := m.registry.Register(stage); err != nil {
			return nil, err
		}
	}

	if err := m.openSinks(); err != nil {
		m.Close()
		return nil, err
	}

	var tracer *telemetry.Tracer
	switch {
	case opts.TracerProvider != nil:
		tracer = telemetry.NewFromProvider(opts.TracerProvider)
	case cfg.Telemetry.Enabled:
		tracer = telemetry.New()
	}

	sinks := []engine.ResultSink{m.store}
	if m.notifier != nil {
		sinks = append(sinks, m.notifier)
	}

	m.engine = engine.New(func(o *engine.Options) {
		o.Config = cfg.EngineOptions()
		o.Pipelines = &pipeline.Builder{
			Registry:   m.registry,
			Mandatory:  cfg.Pipeline.Mandatory,
			Optional:   cfg.Pipeline.Remote,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		}
		o.Sinks = sinks
		o.Callbacks = opts.Callbacks
		o.Tracer = tracer
		o.Logger = logger
	})

	logger.Info("factorymesh.ready", "stages", len(cfg.Pipeline.Mandatory), "remote", len(cfg.Pipeline.Remote), "catalogue_machines", len(cat.Machines))

	return m, nil
}

func (m *Mesh) openSinks() error {
	switch {
	case m.opts.Store != nil:
		m.store = m.opts.Store
	case m.cfg.Store.Path != "":
		st, err := store.NewSQLiteStore(m.cfg.Store.Path)
		if err != nil {
			return &core.ConfigurationError{Err: err}
		}
		m.store = st
	default:
		m.store = store.NewMemoryStore()
	}

	notifyOpts := func(o *notify.Options) {
		o.Subject = m.cfg.NATS.Subject
		o.Logger = m.logger
	}
	switch {
	case m.opts.Publisher != nil:
		m.notifier = notify.New(m.opts.Publisher, notifyOpts)
	case m.cfg.NATS.URL != "":
		n, err := notify.Connect(m.cfg.NATS.URL, notifyOpts)
		if err != nil {
			return &core.ConfigurationError{Err: err}
		}
		m.notifier = n
	}
	return nil
}

// Stage builds the local stage called name from its configured definition.
func (m *Mesh) Stage(name string) (core.Agent, error) {
	sc, ok := m.cfg.Stage(name)
	if !ok {
		return nil, &core.ConfigurationError{Stage: name, Err: core.ErrUnknownStage}
	}

	llm, err := m.modelFor(sc)
	if err != nil {
		return nil, &core.ConfigurationError{Stage: name, Err: err}
	}

	stage, err := domain.NewStage(name, m.catalogue, func(o *domain.StageOptions) {
		o.Model = llm
		o.Instruction = sc.Instruction
		o.MaxIterations = sc.MaxIterations
		o.ToolTimeout = sc.ToolTimeout
		o.Logger = m.logger
		if sc.Streaming != nil {
			o.EnableStreaming = *sc.Streaming
		}
	})
	if err != nil {
		return nil, &core.ConfigurationError{Stage: name, Err: err}
	}
	return stage, nil
}

func (m *Mesh) modelFor(sc config.StageConfig) (model.Model, error) {
	if llm, ok := m.opts.Models[sc.Name]; ok {
		return llm, nil
	}
	return NewModel(sc, m.cfg.Providers)
}

// NewModel creates the model a stage definition asks for. The rules provider
// has no model and yields nil.
func NewModel(sc config.StageConfig, providers config.ProvidersConfig) (model.Model, error) {
	switch sc.Provider {
	case "", config.ProviderRules:
		return nil, nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if sc.Model != "" {
				o.Model = sc.Model
			}
			if sc.Temperature > 0 {
				o.Temperature = sc.Temperature
			}
			if sc.MaxTokens > 0 {
				o.MaxCompletionTokens = sc.MaxTokens
			}
			o.APIKey = providers.OpenAI.APIKey
			o.BaseURL = providers.OpenAI.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if sc.Model != "" {
				o.Model = anthropicsdk.Model(sc.Model)
			}
			if sc.Temperature > 0 {
				o.Temperature = sc.Temperature
			}
			if sc.MaxTokens > 0 {
				o.MaxTokens = sc.MaxTokens
			}
			o.APIKey = providers.Anthropic.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", sc.Provider)
	}
}

// Engine returns the underlying engine.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// Store returns the run history.
func (m *Mesh) Store() store.Store { return m.store }

// Catalogue returns the plant catalogue the local stages consult.
func (m *Mesh) Catalogue() *domain.Catalogue { return m.catalogue }

// Run executes one request synchronously.
func (m *Mesh) Run(ctx context.Context, req core.Request, optFns ...func(o *engine.RunOptions)) (*trace.WorkflowResult, error) {
	return m.engine.Run(ctx, req, optFns...)
}

// Handler returns the HTTP boundary serving this mesh.
func (m *Mesh) Handler() http.Handler {
	return server.New(m.engine, func(o *server.Options) {
		o.RequestTimeout = m.cfg.Server.RequestTimeout
		o.Store = m.store
		o.Version = Version
		o.Logger = m.logger
	})
}

// Close releases the run history and the notification connection.
func (m *Mesh) Close() error {
	if m.notifier != nil {
		m.notifier.Close()
	}
	if m.store != nil && m.opts.Store == nil {
		return m.store.Close()
	}
	return nil
}

// IsConfigurationError reports whether err stems from invalid configuration.
func IsConfigurationError(err error) bool {
	var cfgErr *core.ConfigurationError
	return errors.As(err, &cfgErr)
}
