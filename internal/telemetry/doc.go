// Package telemetry exports the daemon's OpenTelemetry spans.
//
// Every package instruments itself through otel.Tracer, which is a no-op
// until a provider is installed. New installs a global TracerProvider that
// batches spans to an OTLP collector over gRPC or HTTP/protobuf and sets the
// W3C trace-context propagator. Metrics stay on Prometheus.
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sample_rate: 0.25
//
// An exporter that cannot be built does not stop the daemon: New logs the
// failure and leaves tracing disabled.
package telemetry
