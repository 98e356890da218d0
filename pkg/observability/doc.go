// Package observability wires OpenTelemetry tracing and metrics for
// deleteflow and tracks service level objectives of workflow operations.
//
// Initialize the providers at startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "deleteflow",
//		OTLPEndpoint: "otel-collector:4317",
//		Enabled:      true,
//	})
//	defer p.Shutdown(ctx)
//
// Track an operation:
//
//	ctx, done := p.TrackOperation(ctx, "workflow.submit", observability.SubmitOperation("42", 2, 1)...)
//	err := submit(ctx)
//	done(err)
package observability
