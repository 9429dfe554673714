package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/playplan/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment:            "test",
		HTTPBind:               "127.0.0.1",
		HTTPPort:               0,
		DBBackend:              config.DatabaseSQLite,
		DBDSN:                  filepath.Join(t.TempDir(), "playplan.db"),
		DefaultCapacityMinutes: 30,
		MaxPeriods:             100,
	}
	srv, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestServerWiresRoutes(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"redis":false`) {
		t.Fatalf("healthz: %d %s", rr.Code, rr.Body.String())
	}

	body := `{"items":[{"id":"a","title":"A","duration_minutes":45}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated || !strings.Contains(rr.Body.String(), `"day_count":2`) {
		t.Fatalf("create plan: %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers on API responses")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "playplan_") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestServerCloseIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	if err := srv.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
