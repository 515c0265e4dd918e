package otel

import (
	"context"
	"sync"
	"testing"

	goToken "github.com/MrEthical07/goToken"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goToken.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() goToken.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goToken.MetricsSnapshot{
		Counters:   make(map[goToken.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goToken.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gotoken-test")

	src := &fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters: map[goToken.MetricID]uint64{
				goToken.MetricLoginSuccess: 3,
			},
			Histograms: map[goToken.MetricID][]uint64{
				goToken.MetricRotateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	values := collectedInt64(rm)
	if got := values["gotoken_login_success_total"]; got != 3 {
		t.Fatalf("expected login counter 3, got %d", got)
	}
	if got := values["gotoken_rotate_latency_seconds_bucket_le_inf"]; got != 8 {
		t.Fatalf("expected +Inf bucket 8, got %d", got)
	}
	if got := values["gotoken_rotate_latency_seconds_count"]; got != 8 {
		t.Fatalf("expected count 8, got %d", got)
	}
	if got := values["gotoken_audit_dropped_total"]; got != 1 {
		t.Fatalf("expected audit dropped 1, got %d", got)
	}
}

func collectedInt64(rm metricdata.ResourceMetrics) map[string]int64 {
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestExporterSkipsCountersWhenDisabled(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	src := &fakeSource{snapshot: goToken.MetricsSnapshot{
		Counters:   map[goToken.MetricID]uint64{},
		Histograms: map[goToken.MetricID][]uint64{},
	}}
	exp, err := NewExporterFromSource(provider.Meter("gotoken-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	values := collectedInt64(rm)
	if _, ok := values["gotoken_login_success_total"]; ok {
		t.Fatal("expected no counters while metrics are disabled")
	}
	if _, ok := values["gotoken_audit_dropped_total"]; !ok {
		t.Fatal("expected audit dropped counter to be reported")
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gotoken-test")

	if _, err := NewExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("gotoken-test")

	src := &fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters: map[goToken.MetricID]uint64{
				goToken.MetricLoginSuccess: 1,
			},
			Histograms: map[goToken.MetricID][]uint64{
				goToken.MetricRotateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goToken.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
