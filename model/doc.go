// Package model defines the provider-agnostic abstractions for talking to
// language models from a pipeline stage.
//
// Providers (OpenAI, Anthropic) implement Model in their own sub-packages so
// agents stay decoupled from vendor SDKs. ScriptedModel replays canned turns
// for tests and offline runs.
package model
