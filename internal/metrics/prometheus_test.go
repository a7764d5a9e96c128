package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Executions.Inc()
	prom.Metrics.Blocked.Inc()
	prom.Metrics.Blocked.Inc()
	prom.Metrics.BreakerTrips.Inc()
	prom.Metrics.BreakerResets.Inc()
	prom.Metrics.Sweeps.Inc()
	prom.Metrics.TranchesCreated.Inc()
	prom.Metrics.TranchesMatched.Inc()

	assertCounter(t, prom, "executions_total", 1)
	assertCounter(t, prom, "blocked_total", 2)
	assertCounter(t, prom, "breaker_trips_total", 1)
	assertCounter(t, prom, "breaker_resets_total", 1)
	assertCounter(t, prom, "sweeps_total", 1)
	assertCounter(t, prom, "sweeps_skipped_total", 0)
	assertCounter(t, prom, "tranches_total", 1)
	assertCounter(t, prom, "matches_total", 1)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.ParadoxScore.Set(42.5)
	prom.Metrics.BreakerTripped.Set(1)
	if got := testutil.ToFloat64(prom.gauges["paradox_score"]); got != 42.5 {
		t.Fatalf("expected paradox gauge 42.5, got %v", got)
	}
	if got := testutil.ToFloat64(prom.gauges["breaker_tripped"]); got != 1 {
		t.Fatalf("expected breaker gauge 1, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Sweeps.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "fry_engine_sweeps_total 1") {
		t.Fatalf("expected sweeps counter in exposition, got %s", string(body))
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.Executions.Inc()
	m.ParadoxScore.Set(10)
}

func assertCounter(t *testing.T, prom *Prometheus, name string, expected float64) {
	t.Helper()
	counter, ok := prom.counters[name]
	if !ok {
		t.Fatalf("counter %s not registered", name)
	}
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("%s: expected %v, got %v", name, expected, got)
	}
}
