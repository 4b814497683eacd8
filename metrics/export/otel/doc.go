// Package otel publishes flow controller counters through an OpenTelemetry
// Meter supplied by the caller. One callback reads the engine snapshot per
// collection cycle.
package otel
