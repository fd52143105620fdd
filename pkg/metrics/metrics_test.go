package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(func() int { return 3 })

	m.ObserveEvent("awaiting_name")
	m.ObserveEvent("awaiting_name")
	m.ObserveFinalized("positive")
	m.ObserveSendFailure("media")
	m.ObserveGatewayError("telegram")
	m.ObserveContractViolation()

	if got := testutil.ToFloat64(m.events.WithLabelValues("awaiting_name")); got != 2 {
		t.Fatalf("events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.finalized.WithLabelValues("positive")); got != 1 {
		t.Fatalf("finalized = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.sendFailures.WithLabelValues("media")); got != 1 {
		t.Fatalf("send failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.contractViolations); got != 1 {
		t.Fatalf("violations = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("x")
	m.ObserveFinalized("x")
	m.ObserveSendFailure("x")
	m.ObserveGatewayError("x")
	m.ObserveContractViolation()
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestRouter(t *testing.T) {
	m := New(func() int { return 7 })
	m.ObserveFinalized("negative")
	srv := httptest.NewServer(NewRouter(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{"findbot_active_sessions 7", `findbot_finalized_total{rating="negative"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestRouterWithoutMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
