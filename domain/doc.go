// Package domain holds the factory maintenance knowledge of factorymesh: the
// machine catalogue (machines, thresholds, telemetry, knowledge base,
// maintenance windows, spare parts), the tools stages use to query it, the
// default instructions of the five pipeline stages, and rule-based stage
// implementations that run without a language model.
package domain
