// Package telemetry wires OpenTelemetry tracing and metrics for crewd.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// New installs the providers globally, so packages obtain tracers and meters
// with otel.Tracer and otel.Meter. The orchestrator records one span per
// phase (orchestrator.run, orchestrator.plan, orchestrator.execute,
// orchestrator.verify); the dashboard records crewd.http.* request metrics.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  insecure: true          # only allowed for local endpoints
//	  service_name: crewd
//	  sample_rate: 1.0
//
// # Error Handling
//
// Exporter failures never stop the daemon. The instance is marked degraded
// and the global no-op providers stay in place.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	restore := tt.Install()
//	defer restore()
//	// ... exercise code ...
//	tt.AssertSpanExists(t, "orchestrator.plan")
package telemetry
