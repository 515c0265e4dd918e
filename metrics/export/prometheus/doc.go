// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Counters are published as gotoken_*_total and the rotation latency histogram as
// gotoken_rotate_latency_seconds. Register the Exporter with any registry, or
// mount Handler for a standalone /metrics endpoint.
package prometheus
