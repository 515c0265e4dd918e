package internaldefs

import (
	goToken "github.com/MrEthical07/goToken"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goToken.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a fixed order.
var CounterDefs = []CounterDef{
	{ID: goToken.MetricLoginSuccess, Name: "gotoken_login_success_total", Help: "Token families opened by login."},
	{ID: goToken.MetricLoginFailure, Name: "gotoken_login_failure_total", Help: "Failed login attempts."},
	{ID: goToken.MetricRotateSuccess, Name: "gotoken_rotate_success_total", Help: "Successful refresh token rotations."},
	{ID: goToken.MetricRotateInvalid, Name: "gotoken_rotate_invalid_total", Help: "Rotations rejected as invalid."},
	{ID: goToken.MetricRotateExpired, Name: "gotoken_rotate_expired_total", Help: "Rotations rejected as expired."},
	{ID: goToken.MetricReuseDetected, Name: "gotoken_reuse_detected_total", Help: "Refresh token reuse detections."},
	{ID: goToken.MetricRotateFailure, Name: "gotoken_rotate_failure_total", Help: "Rotations failed for other reasons."},
	{ID: goToken.MetricFamilyRevoked, Name: "gotoken_family_revoked_total", Help: "Token families revoked."},
	{ID: goToken.MetricRateLimitHit, Name: "gotoken_rate_limit_hit_total", Help: "Requests denied by a throttle."},
	{ID: goToken.MetricLogout, Name: "gotoken_logout_total", Help: "Logout operations."},
	{ID: goToken.MetricAccessRevoked, Name: "gotoken_access_revoked_total", Help: "Access tokens blacklisted outside logout."},
	{ID: goToken.MetricGuardAllowed, Name: "gotoken_guard_allowed_total", Help: "Requests admitted by the guard."},
	{ID: goToken.MetricGuardDenied, Name: "gotoken_guard_denied_total", Help: "Requests denied by the guard."},
	{ID: goToken.MetricBlacklistHit, Name: "gotoken_blacklist_hit_total", Help: "Access tokens rejected by the blacklist."},
	{ID: goToken.MetricStoreUnavailable, Name: "gotoken_store_unavailable_total", Help: "Record store failures."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goToken.MetricRotateLatency, Name: "gotoken_rotate_latency_seconds", Help: "Refresh token rotation latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf last, for exporters that flatten
// buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
