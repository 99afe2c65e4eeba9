// Package telemetry sets up OpenTelemetry tracing and metrics for recd.
//
// Metrics are always exported through a Prometheus registry and served at
// /metrics. When telemetry.enabled is set, spans and metrics are also pushed
// over OTLP (grpc or http/protobuf) to a collector.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	e.GET("/metrics", echo.WrapHandler(tel.MetricsHandler()))
//
// Exporter failures do not stop the service; the instance reports itself
// degraded through Health.
//
// Tests use TestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install(t)
//	// ... exercise code ...
//	tt.AssertSpanExists(t, "batch.run")
package telemetry
