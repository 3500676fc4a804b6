// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" type:"path" env:"FACTORYMESH_CONFIG" help:"Config file (.toml, .yaml)"`

	Serve    ServeCmd    `cmd:"" help:"Serve the workflow HTTP endpoint"`
	Run      RunCmd      `cmd:"" help:"Run one machine event and print the result"`
	Host     HostCmd     `cmd:"" help:"Serve one local stage over the remote agent protocol"`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration and catalogue"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// ServeCmd runs the HTTP boundary.
type ServeCmd struct {
	Listen string `help:"Listen address (overrides config)"`
}

// RunCmd executes a single request.
type RunCmd struct {
	File    string `short:"f" type:"path" help:"JSON request file ({\"id\": ..., \"payload\": {...}})"`
	ID      string `help:"Machine id (when no file is given)"`
	Payload string `help:"JSON object of telemetry values"`
	RunID   string `name:"run-id" help:"Run identifier"`
	Events  bool   `help:"Print every execution event as NDJSON to stderr"`
}

// HostCmd exposes one local stage for remote pipelines.
type HostCmd struct {
	Stage     string `arg:"" help:"Stage name"`
	Listen    string `default:":8081" help:"Listen address"`
	PublicURL string `name:"public-url" help:"Base URL advertised in the agent card"`
}

// ValidateCmd checks configuration.
type ValidateCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
