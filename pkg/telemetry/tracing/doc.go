// Package tracing wires OpenTelemetry tracing into the gateway.
//
// New builds a tracer exporting spans over OTLP/gRPC. When tracing is
// disabled it returns a noop tracer, so call sites always start spans:
//
//	tracer, err := tracing.New(tracing.Config{Enabled: true, Endpoint: "localhost:4317"})
//	defer tracer.Shutdown(ctx)
//
//	ctx, span := tracer.Start(ctx, "gateway.execute")
//	defer span.End()
//
// Incoming W3C trace context is extracted by HTTPMiddleware and injected
// into upstream provider requests with Inject.
package tracing
