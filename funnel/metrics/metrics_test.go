package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesFunnelCounters(t *testing.T) {
	m := New()
	m.Postbacks.WithLabelValues("deposit", "matched").Inc()
	m.Postbacks.WithLabelValues("deposit", "matched").Inc()
	m.VIPTransitions.Inc()

	if got := testutil.ToFloat64(m.Postbacks.WithLabelValues("deposit", "matched")); got != 2 {
		t.Fatalf("expected 2 postbacks, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`funnelbot_postbacks_total{kind="deposit",outcome="matched"} 2`,
		`funnelbot_vip_transitions_total 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestObserveJob(t *testing.T) {
	m := New()
	m.ObserveJob("push", nil)
	m.ObserveJob("push", io.EOF)
	m.ObserveJob("push", nil)
	if got := testutil.ToFloat64(m.OutboundJobs.WithLabelValues("push", "ok")); got != 2 {
		t.Fatalf("expected 2 ok jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.OutboundJobs.WithLabelValues("push", "fail")); got != 1 {
		t.Fatalf("expected 1 failed job, got %v", got)
	}
}
