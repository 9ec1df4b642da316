package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.CrankAttempts.WithLabelValues("request", "SOL-PERP", "ok").Inc()
	m.QueueDepth.WithLabelValues("event").Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`perpdex_crank_attempts_total{loop="request",market="SOL-PERP",outcome="ok"} 1`,
		`perpdex_queue_depth{queue="event"} 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, text)
		}
	}
}

func TestNewUsesIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()
	a.SnapshotsPublished.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), "perpdex_indexer_snapshots_published_total 1") {
		t.Fatal("registries must not share collectors")
	}
}
