// Package observability bundles the portal's operational concerns: the
// structured JSON logger, Prometheus metrics, health probes for the
// diagnostics server, OpenTelemetry tracing, graceful shutdown, and panic
// recovery for worker goroutines.
package observability
