// Package config loads the factorymesh configuration from TOML or YAML files,
// a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/engine"
	"github.com/hupe1980/factorymesh/pipeline"
)

// Providers a stage can be driven by.
const (
	ProviderRules     = "rules"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config represents the factorymesh configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Engine    EngineConfig    `toml:"engine" yaml:"engine"`
	Pipeline  PipelineConfig  `toml:"pipeline" yaml:"pipeline"`
	Stages    []StageConfig   `toml:"stages" yaml:"stages"`
	Providers ProvidersConfig `toml:"providers" yaml:"providers"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	NATS      NATSConfig      `toml:"nats" yaml:"nats"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Catalogue CatalogueConfig `toml:"catalogue" yaml:"catalogue"`
}

// ServerConfig contains the HTTP boundary settings.
type ServerConfig struct {
	Listen         string        `toml:"listen" yaml:"listen"`
	ReadTimeout    time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout" yaml:"request_timeout"`
}

// EngineConfig mirrors engine.Config.
type EngineConfig struct {
	StageTimeout      time.Duration `toml:"stage_timeout" yaml:"stage_timeout"`
	MaxConcurrentRuns int           `toml:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	EventBufferSize   int           `toml:"event_buffer_size" yaml:"event_buffer_size"`
}

// PipelineConfig lists the mandatory local stages and the optional remote
// stages, each in execution order.
type PipelineConfig struct {
	Mandatory []string                 `toml:"mandatory" yaml:"mandatory"`
	Remote    []pipeline.OptionalStage `toml:"remote" yaml:"remote"`
}

// StageConfig defines a local stage.
type StageConfig struct {
	Name          string        `toml:"name" yaml:"name"`
	Provider      string        `toml:"provider" yaml:"provider"`
	Model         string        `toml:"model" yaml:"model"`
	Instruction   string        `toml:"instruction" yaml:"instruction"`
	Temperature   float64       `toml:"temperature" yaml:"temperature"`
	MaxTokens     int64         `toml:"max_tokens" yaml:"max_tokens"`
	MaxIterations int           `toml:"max_iterations" yaml:"max_iterations"`
	ToolTimeout   time.Duration `toml:"tool_timeout" yaml:"tool_timeout"`
	Streaming     *bool         `toml:"streaming" yaml:"streaming"`
}

// ProvidersConfig holds model provider credentials.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `toml:"openai" yaml:"openai"`
	Anthropic ProviderConfig `toml:"anthropic" yaml:"anthropic"`
}

// ProviderConfig contains credentials of one model provider.
type ProviderConfig struct {
	APIKey  string `toml:"api_key" yaml:"api_key"`
	BaseURL string `toml:"base_url" yaml:"base_url"`
}

// StoreConfig contains run history settings. An empty path keeps history in
// memory.
type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// NATSConfig contains result notification settings. An empty URL disables
// notifications.
type NATSConfig struct {
	URL     string `toml:"url" yaml:"url"`
	Subject string `toml:"subject" yaml:"subject"`
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" yaml:"enabled"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // json or text
}

// CatalogueConfig points at the plant catalogue. An empty path selects the
// built-in sample plant.
type CatalogueConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// New creates a new config with defaults.
func New() *Config {
	def := engine.DefaultConfig

	stages := make([]StageConfig, 0, 5)
	for _, name := range allStages() {
		stages = append(stages, StageConfig{Name: name, Provider: ProviderRules})
	}

	return &Config{
		Server: ServerConfig{
			Listen:         ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Minute,
			RequestTimeout: 10 * time.Minute,
		},
		Engine: EngineConfig{
			StageTimeout:      def.StageTimeout,
			MaxConcurrentRuns: def.MaxConcurrentRuns,
			EventBufferSize:   def.EventBufferSize,
		},
		Pipeline: PipelineConfig{
			Mandatory: pipeline.DefaultMandatory(),
			Remote: []pipeline.OptionalStage{
				{Name: pipeline.StageRepairPlanner},
				{Name: pipeline.StageMaintenanceScheduler},
				{Name: pipeline.StagePartsOrdering},
			},
		},
		Stages:    stages,
		NATS:      NATSConfig{Subject: "factorymesh.runs"},
		Telemetry: TelemetryConfig{ServiceName: "factorymesh"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func allStages() []string {
	return []string{
		pipeline.StageAnomalyClassification,
		pipeline.StageFaultDiagnosis,
		pipeline.StageRepairPlanner,
		pipeline.StageMaintenanceScheduler,
		pipeline.StagePartsOrdering,
	}
}

// LoadFile loads configuration from a TOML or YAML file on top of the
// defaults. The format follows the file extension.
func LoadFile(path string) (*Config, error) {
	cfg := New()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	return cfg, nil
}

// Load reads .env (when present), the optional config file and then the
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := New()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// remoteEnv maps environment variables to optional remote stages.
var remoteEnv = []struct{ key, stage string }{
	{"REPAIR_PLANNER_URL", pipeline.StageRepairPlanner},
	{"MAINTENANCE_SCHEDULER_URL", pipeline.StageMaintenanceScheduler},
	{"PARTS_ORDERING_URL", pipeline.StagePartsOrdering},
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("FACTORYMESH_LISTEN", &c.Server.Listen)
	set("FACTORYMESH_DB", &c.Store.Path)
	set("FACTORYMESH_CATALOGUE", &c.Catalogue.Path)
	set("FACTORYMESH_LOG_LEVEL", &c.Logging.Level)
	set("OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	set("OPENAI_BASE_URL", &c.Providers.OpenAI.BaseURL)
	set("ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	set("NATS_URL", &c.NATS.URL)

	for _, r := range remoteEnv {
		if url, ok := lookup(r.key); ok && url != "" {
			c.setRemote(r.stage, url)
		}
	}
}

func (c *Config) setRemote(name, url string) {
	for i := range c.Pipeline.Remote {
		if c.Pipeline.Remote[i].Name == name {
			c.Pipeline.Remote[i].BaseURL = url
			return
		}
	}
	c.Pipeline.Remote = append(c.Pipeline.Remote, pipeline.OptionalStage{Name: name, BaseURL: url})
}

// Stage returns the definition of a local stage.
func (c *Config) Stage(name string) (StageConfig, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageConfig{}, false
}

// EngineOptions converts the engine section.
func (c *Config) EngineOptions() engine.Config {
	return engine.Config{
		StageTimeout:      c.Engine.StageTimeout,
		MaxConcurrentRuns: c.Engine.MaxConcurrentRuns,
		EventBufferSize:   c.Engine.EventBufferSize,
	}
}

// Validate rejects missing mandatory stage definitions, unknown providers and
// duplicate stage names.
func (c *Config) Validate() error {
	defined := make(map[string]bool, len(c.Stages))
	for _, s := range c.Stages {
		if s.Name == "" {
			return &core.ConfigurationError{Err: errors.New("stage definition without a name")}
		}
		if defined[s.Name] {
			return &core.ConfigurationError{Stage: s.Name, Err: core.ErrDuplicateStage}
		}
		defined[s.Name] = true

		switch s.Provider {
		case "", ProviderRules, ProviderOpenAI, ProviderAnthropic:
		default:
			return &core.ConfigurationError{Stage: s.Name, Err: fmt.Errorf("unknown provider %q", s.Provider)}
		}
	}

	if len(c.Pipeline.Mandatory) == 0 {
		return &core.ConfigurationError{Err: errors.New("no mandatory stages configured")}
	}

	names := make(map[string]bool, len(c.Pipeline.Mandatory)+len(c.Pipeline.Remote))
	for _, name := range c.Pipeline.Mandatory {
		if !defined[name] {
			return &core.ConfigurationError{Stage: name, Err: core.ErrUnknownStage}
		}
		if names[name] {
			return &core.ConfigurationError{Stage: name, Err: core.ErrDuplicateStage}
		}
		names[name] = true
	}
	for _, r := range c.Pipeline.Remote {
		if r.Name == "" {
			return &core.ConfigurationError{Err: errors.New("remote stage without a name")}
		}
		if names[r.Name] {
			return &core.ConfigurationError{Stage: r.Name, Err: core.ErrDuplicateStage}
		}
		names[r.Name] = true
	}

	if c.Engine.StageTimeout < 0 || c.Engine.MaxConcurrentRuns < 0 || c.Engine.EventBufferSize < 0 {
		return &core.ConfigurationError{Err: errors.New("engine limits must not be negative")}
	}
	return nil
}
