// Package otel binds engine counters to OpenTelemetry observable instruments.
//
// Each counter becomes an Int64ObservableCounter named like its Prometheus
// counterpart; the rotation latency histogram is flattened into one cumulative
// Int64ObservableGauge per bucket plus a _count gauge. A single callback reads
// Engine.MetricsSnapshot per collection. The caller owns the MeterProvider.
package otel
