// Package telemetry groups the client's operational observability.
//
// Tracing is configured by platform/otel; counters and histograms live in
// telemetry/metrics and are exported in Prometheus format by the command.
package telemetry
