// Package store keeps the history of finished runs. Both implementations
// persist the serialised WorkflowResult, so a stored result reads back exactly
// as it was returned over the HTTP boundary.
//
// Stores satisfy engine.ResultSink through HandleResult and are registered on
// the engine by the wiring layer.
package store
