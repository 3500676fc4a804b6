// Package a2a implements the remote stage protocol: a JSON agent card served
// at /.well-known/agent.json and an invoke endpoint that accepts a
// conversation and streams newline-delimited execution events back.
//
// RemoteAgent is the client side and satisfies core.Agent. Handler is the
// server side and exposes any core.Agent with the same wire format.
package a2a
