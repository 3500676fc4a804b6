// Package main is the entry point for the factorymesh CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hupe1980/factorymesh"
	"github.com/hupe1980/factorymesh/config"
	"github.com/hupe1980/factorymesh/logging"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	factorymesh.Version = version

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("factorymesh"),
		kong.Description("Factory maintenance agent pipeline"),
		kong.UsageOnError(),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// load reads the configuration and builds the process logger.
func (c *CLI) load(component string) (*config.Config, *logging.MeshLogger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.NewLogger(os.Stderr, component)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// Run prints version information.
func (VersionCmd) Run() error {
	fmt.Printf("factorymesh %s (commit %s, built %s)\n", version, commit, buildTime)
	return nil
}

// Run validates the configuration and the catalogue.
func (ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	cat, err := cfg.LoadCatalogue()
	if err != nil {
		return err
	}
	fmt.Printf("configuration ok: %d mandatory stages, %d remote stages, %d machines\n",
		len(cfg.Pipeline.Mandatory), len(cfg.Pipeline.Remote), len(cat.Machines))
	return nil
}
