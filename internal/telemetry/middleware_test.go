package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/v1/plans/{planID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/implicit", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	counter := APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/plans/{planID}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/plans/"+id, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rr.Code)
		}
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("counter delta = %v, want 2", got)
	}

	implicit := APIRequestsTotal.WithLabelValues(http.MethodGet, "/implicit", "200")
	before = testutil.ToFloat64(implicit)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/implicit", nil))
	if got := testutil.ToFloat64(implicit) - before; got != 1 {
		t.Fatalf("implicit 200 delta = %v, want 1", got)
	}
}

func TestTracingMiddlewarePassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(TracingMiddleware("playplan-test"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}
