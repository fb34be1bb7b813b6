package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuscore/keygate/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Helper function to create test config
func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Namespace:               "test",
		AdmissionLatencyBuckets: []float64{0.001, 0.01, 0.1},
		TokenCountBuckets:       []float64{100, 1000, 10000},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)

	if collector == nil {
		t.Fatal("Expected non-nil collector")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
	if !collector.enabled {
		t.Error("Expected collector enabled by default")
	}
}

func TestCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{}
	NewCollector(cfg, nil)

	if cfg.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("Expected namespace %q, got %q", config.DefaultMetricsNamespace, cfg.Namespace)
	}
	if len(cfg.AdmissionLatencyBuckets) == 0 || len(cfg.TokenCountBuckets) == 0 {
		t.Error("Expected default buckets to be applied")
	}
}

func TestCollector_RecordAdmission(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordAdmission("flagship", ResultAdmitted, 2*time.Millisecond)
	collector.RecordAdmission("flagship", ResultAdmitted, 3*time.Millisecond)
	collector.RecordAdmission("lite", ResultExhausted, time.Millisecond)

	if got := testutil.ToFloat64(collector.admission.decisionsTotal.WithLabelValues("flagship", ResultAdmitted)); got != 2 {
		t.Errorf("Expected 2 admitted decisions, got %v", got)
	}
	if got := testutil.ToFloat64(collector.admission.decisionsTotal.WithLabelValues("lite", ResultExhausted)); got != 1 {
		t.Errorf("Expected 1 exhausted decision, got %v", got)
	}
	if got := testutil.CollectAndCount(collector.admission.duration); got != 2 {
		t.Errorf("Expected 2 latency series, got %d", got)
	}
}

func TestCollector_ConflictsAndFallbacks(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordCASConflict("standard")
	collector.RecordCASConflict("standard")
	collector.RecordFallback("flagship", "standard")
	collector.RecordReservedTokens("standard", 500)

	if got := testutil.ToFloat64(collector.admission.conflictsTotal.WithLabelValues("standard")); got != 2 {
		t.Errorf("Expected 2 conflicts, got %v", got)
	}
	if got := testutil.ToFloat64(collector.admission.fallbacksTotal.WithLabelValues("flagship", "standard")); got != 1 {
		t.Errorf("Expected 1 fallback, got %v", got)
	}
}

func TestCollector_RecordCompletion(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordCompletion("fast", OutcomeSuccess, 120)
	collector.RecordCompletion("fast", OutcomeFailure, 0)
	collector.RecordCredentialTransition("fast", "rotated")

	if got := testutil.ToFloat64(collector.usage.tokensTotal.WithLabelValues("fast")); got != 120 {
		t.Errorf("Expected 120 tokens, got %v", got)
	}
	if got := testutil.ToFloat64(collector.usage.completionsTotal.WithLabelValues("fast", OutcomeFailure)); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(collector.usage.transitionsTotal.WithLabelValues("fast", "rotated")); got != 1 {
		t.Errorf("Expected 1 rotation, got %v", got)
	}
}

func TestCollector_RecordSweep(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordSweep(20*time.Millisecond, 3, 1, 2)

	if got := testutil.ToFloat64(collector.sweep.runsTotal); got != 1 {
		t.Errorf("Expected 1 run, got %v", got)
	}
	if got := testutil.ToFloat64(collector.sweep.reclaimedTotal); got != 3 {
		t.Errorf("Expected 3 reclaimed, got %v", got)
	}
	if got := testutil.ToFloat64(collector.sweep.failuresTotal); got != 2 {
		t.Errorf("Expected 2 failures, got %v", got)
	}
	if got := testutil.ToFloat64(collector.sweep.lastRun); got <= 0 {
		t.Errorf("Expected last run timestamp, got %v", got)
	}
}

func TestCollector_SetTierSnapshot(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.SetTierSnapshot(TierSnapshot{Tier: "lite", RPMUsed: 4, TPMUsed: 900, Active: 2, Rotated: 1})

	if got := testutil.ToFloat64(collector.tiers.used.WithLabelValues("lite", "tpm")); got != 900 {
		t.Errorf("Expected tpm 900, got %v", got)
	}
	if got := testutil.ToFloat64(collector.tiers.credentials.WithLabelValues("lite", "rotated")); got != 1 {
		t.Errorf("Expected 1 rotated, got %v", got)
	}

	collector.SetTierSnapshot(TierSnapshot{Tier: "lite", TPMUsed: 0, Active: 3})
	if got := testutil.ToFloat64(collector.tiers.used.WithLabelValues("lite", "tpm")); got != 0 {
		t.Errorf("Expected gauges replaced, got %v", got)
	}
}

func TestCollector_CacheMetrics(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordCacheHit("status")
	collector.RecordCacheMiss("status")
	collector.RecordCacheMiss("status")
	collector.RecordCacheEvictions("status", 4)
	collector.RecordCacheEvictions("status", 0)
	collector.UpdateCacheSize("status", 12)
	collector.RecordIdentityFailure("invalid")

	if got := testutil.ToFloat64(collector.cache.missesTotal.WithLabelValues("status")); got != 2 {
		t.Errorf("Expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cache.evictionsTotal.WithLabelValues("status")); got != 4 {
		t.Errorf("Expected 4 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cache.entries.WithLabelValues("status")); got != 12 {
		t.Errorf("Expected 12 entries, got %v", got)
	}
	if got := testutil.ToFloat64(collector.cache.identityFailures.WithLabelValues("invalid")); got != 1 {
		t.Errorf("Expected 1 identity failure, got %v", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	disabled := false
	cfg := testConfig()
	cfg.Enabled = &disabled
	collector := NewCollector(cfg, nil)

	collector.RecordAdmission("flagship", ResultAdmitted, time.Millisecond)

	if got := testutil.ToFloat64(collector.admission.decisionsTotal.WithLabelValues("flagship", ResultAdmitted)); got != 0 {
		t.Errorf("Expected disabled collector to record nothing, got %v", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector

	collector.RecordAdmission("flagship", ResultAdmitted, time.Millisecond)
	collector.RecordCompletion("flagship", OutcomeSuccess, 10)
	collector.RecordSweep(time.Millisecond, 0, 0, 0)
	collector.SetTierSnapshot(TierSnapshot{Tier: "flagship"})
	collector.RecordCacheHit("status")

	if collector.Registry() != nil {
		t.Error("Expected nil registry for nil collector")
	}
}

func TestHandler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordAdmission("standard", ResultAdmitted, time.Millisecond)

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `test_admissions_total{result="admitted",tier="standard"} 1`) {
		t.Errorf("Expected admissions series in output, got:\n%s", body)
	}
}
