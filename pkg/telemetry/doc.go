// Package telemetry groups the gateway's observability packages:
//
//   - logging: slog construction and credential redaction
//   - metrics: Prometheus collector and /metrics handler
//   - tracing: OpenTelemetry tracer and W3C propagation
//   - health: liveness, readiness and version endpoints
package telemetry
