// Package telemetry provides diagnostic logging, tracing and metrics for
// ostrich.
//
// Diagnostics are kept separate from step output: the emitter owns what the
// operator sees and the per-step logs, while this package reports on the
// resolver itself.
//
//   - Logging uses zerolog through the Logger wrapper, with fields for the
//     run, stage, step and attempt.
//   - Tracing uses OpenTelemetry with a span per Resolve call and per step
//     attempt, exported to stdout or an OTLP gRPC collector.
//   - Metrics are Prometheus counters, histograms and gauges on a private
//     registry, optionally served over HTTP.
//
// Usage:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	tel.Metrics.StartMetricsServer(ctx, tel.Logger)
//
// Disabled tracing and metrics are safe to call; they record nothing.
package telemetry
