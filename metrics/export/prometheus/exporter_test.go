package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goToken "github.com/MrEthical07/goToken"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot goToken.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goToken.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestCollectDisabledOnlyReportsDropped(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters:   map[goToken.MetricID]uint64{},
			Histograms: map[goToken.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 1 {
		t.Fatalf("expected only the audit dropped counter, got %d metrics", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters: map[goToken.MetricID]uint64{
				goToken.MetricRotateSuccess: 7,
				goToken.MetricReuseDetected: 2,
			},
			Histograms: map[goToken.MetricID][]uint64{
				goToken.MetricRotateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	expected := `
# HELP gotoken_reuse_detected_total Refresh token reuse detections.
# TYPE gotoken_reuse_detected_total counter
gotoken_reuse_detected_total 2
# HELP gotoken_rotate_success_total Successful refresh token rotations.
# TYPE gotoken_rotate_success_total counter
gotoken_rotate_success_total 7
# HELP gotoken_audit_dropped_total Audit events dropped by the dispatcher.
# TYPE gotoken_audit_dropped_total counter
gotoken_audit_dropped_total 3
# HELP gotoken_rotate_latency_seconds Refresh token rotation latency.
# TYPE gotoken_rotate_latency_seconds histogram
gotoken_rotate_latency_seconds_bucket{le="0.005"} 1
gotoken_rotate_latency_seconds_bucket{le="0.01"} 3
gotoken_rotate_latency_seconds_bucket{le="0.025"} 6
gotoken_rotate_latency_seconds_bucket{le="0.05"} 10
gotoken_rotate_latency_seconds_bucket{le="0.1"} 15
gotoken_rotate_latency_seconds_bucket{le="0.25"} 21
gotoken_rotate_latency_seconds_bucket{le="0.5"} 28
gotoken_rotate_latency_seconds_bucket{le="+Inf"} 36
gotoken_rotate_latency_seconds_sum 0
gotoken_rotate_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"gotoken_rotate_success_total",
		"gotoken_reuse_detected_total",
		"gotoken_audit_dropped_total",
		"gotoken_rotate_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected exposition: %v", err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters:   map[goToken.MetricID]uint64{goToken.MetricLoginSuccess: 1},
			Histograms: map[goToken.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gotoken_login_success_total 1") {
		t.Fatalf("expected login counter in output, got:\n%s", rec.Body.String())
	}
}

func TestLintClean(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters:   map[goToken.MetricID]uint64{goToken.MetricLoginSuccess: 1},
			Histograms: map[goToken.MetricID][]uint64{},
		},
	})

	problems, err := testutil.CollectAndLint(exp)
	if err != nil {
		t.Fatalf("lint failed: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected lint problems: %+v", problems)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: goToken.MetricsSnapshot{
			Counters: map[goToken.MetricID]uint64{
				goToken.MetricLoginSuccess:  1000,
				goToken.MetricRotateSuccess: 800,
				goToken.MetricGuardAllowed:  5000,
			},
			Histograms: map[goToken.MetricID][]uint64{
				goToken.MetricRotateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
