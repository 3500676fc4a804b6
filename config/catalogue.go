package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/factorymesh/domain"
	"github.com/hupe1980/factorymesh/logging"
)

// LoadCatalogue reads the configured plant catalogue, or returns the sample
// plant when no path is set.
func (c *Config) LoadCatalogue() (*domain.Catalogue, error) {
	if c.Catalogue.Path == "" {
		return domain.SampleCatalogue(), nil
	}

	path := c.Catalogue.Path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue: %w", err)
	}

	cat := &domain.Catalogue{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cat)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cat)
	case ".json":
		err = json.Unmarshal(data, cat)
	default:
		return nil, fmt.Errorf("unsupported catalogue format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// NewLogger builds the process logger from the logging section.
func (c *Config) NewLogger(out io.Writer, component string) (*logging.MeshLogger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    c.Logging.Format,
		Output:    out,
		Component: component,
	}), nil
}
