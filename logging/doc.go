// Package logging provides a minimal logging interface and adapters for factorymesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, pipeline builder and trace reducer use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with run/component scoping and stage/tool/model helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "json"})
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
package logging
