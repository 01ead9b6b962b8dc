// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// the gatehouse pipeline.
//
// It centralises trace provider setup, applies pipeline-specific resource
// attributes, redacts credential-bearing span attributes before export, and
// exposes the request, rejection and stage-latency metrics the admin
// listener serves.
package telemetry
