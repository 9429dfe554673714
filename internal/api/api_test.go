package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/playplan/internal/events"
	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/plans"
	"github.com/friendsincode/playplan/internal/playlist"
	"github.com/friendsincode/playplan/internal/ratelimit"
)

type stubPlaylists struct{}

func (stubPlaylists) FetchPlaylist(_ context.Context, id string) (*playlist.Playlist, error) {
	if id != "PLcourse0001" {
		return nil, playlist.ErrNotFound
	}
	return &playlist.Playlist{
		ID:    id,
		Title: "Go Course",
		Videos: []playlist.Video{
			{ID: "a", Title: "Intro", DurationMinutes: 25},
			{ID: "b", Title: "Types", DurationMinutes: 40},
			{ID: "c", Title: "Wrap up", DurationMinutes: 15},
		},
	}, nil
}

func newTestRouter(t *testing.T, opts Options) (http.Handler, *events.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Plan{}, &models.PlanDay{}, &models.PlanSegment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	svc := plans.NewService(db, stubPlaylists{}, nil, nil, bus, plans.Config{DefaultCapacityMinutes: 30, MaxPeriods: 500}, zerolog.Nop())
	a := New(svc, stubPlaylists{}, bus, opts, zerolog.Nop())

	r := chi.NewRouter()
	a.Routes(r)
	return r, bus
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

type previewBody struct {
	DayCount     int     `json:"day_count"`
	TotalMinutes float64 `json:"total_minutes"`
	Days         []struct {
		Index        int     `json:"index"`
		TotalMinutes float64 `json:"total_minutes"`
		Segments     []struct {
			ItemID    string  `json:"item_id"`
			Start     float64 `json:"start_offset_minutes"`
			End       float64 `json:"end_offset_minutes"`
			IsPartial bool    `json:"is_partial"`
		} `json:"segments"`
	} `json:"days"`
}

func TestScheduleEndpoint(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/api/v1/schedule", map[string]any{
		"items": []map[string]any{
			{"id": "a", "title": "A", "duration_minutes": 25},
			{"id": "b", "title": "B", "duration_minutes": 40},
			{"id": "c", "title": "C", "duration_minutes": 15},
		},
		"capacity_minutes": 30,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	resp := decode[previewBody](t, rr)

	if resp.DayCount != 3 || resp.TotalMinutes != 80 {
		t.Fatalf("day_count=%d total=%v", resp.DayCount, resp.TotalMinutes)
	}
	day2 := resp.Days[1]
	if day2.Index != 2 || len(day2.Segments) != 1 || day2.Segments[0].ItemID != "b" ||
		day2.Segments[0].Start != 5 || day2.Segments[0].End != 35 || !day2.Segments[0].IsPartial {
		t.Fatalf("unexpected day 2: %+v", day2)
	}
}

func TestScheduleEndpointEdgeCases(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/api/v1/schedule", map[string]any{
		"items":            []map[string]any{{"id": "a", "duration_minutes": 10}},
		"capacity_minutes": 0,
	})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"days":[]`) {
		t.Fatalf("zero capacity: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodPost, "/api/v1/schedule", map[string]any{
		"items": []map[string]any{{"id": "a", "duration_minutes": 10}, {"id": "b", "duration_minutes": -1}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative duration status = %d", rr.Code)
	}
	body := decode[map[string]any](t, rr)
	if body["error"] != "invalid_input" || body["item_index"] != float64(1) || body["item_id"] != "b" {
		t.Fatalf("unexpected error body: %#v", body)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/v1/schedule", `{"items": [`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/api/v1/schedule", map[string]any{
		"playlist_url": "https://www.youtube.com/playlist?list=PLcourse0001",
	})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"playlist_id":"PLcourse0001"`) {
		t.Fatalf("playlist schedule: status=%d body=%s", rr.Code, rr.Body.String())
	}
	// Default capacity of 30 gives three days for 80 minutes.
	if !strings.Contains(rr.Body.String(), `"day_count":3`) {
		t.Fatalf("expected default capacity: %s", rr.Body.String())
	}
}

func TestPlaylistEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodGet, "/api/v1/playlists/resolve?url=https%3A%2F%2Fyoutu.be%2Fx%3Flist%3DPLcourse0001", nil)
	if rr.Code != http.StatusOK || decode[map[string]string](t, rr)["playlist_id"] != "PLcourse0001" {
		t.Fatalf("resolve: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, h, http.MethodGet, "/api/v1/playlists/resolve?url=https%3A%2F%2Fexample.com", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad resolve status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/v1/playlists/PLcourse0001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get playlist status = %d", rr.Code)
	}
	pl := decode[map[string]any](t, rr)
	if pl["video_count"] != float64(3) || pl["total_minutes"] != float64(80) || pl["title"] != "Go Course" {
		t.Fatalf("unexpected playlist body: %#v", pl)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/v1/playlists/PLunknown0001", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing playlist status = %d", rr.Code)
	}
}

func TestPlanLifecycle(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	rr := doJSON(t, h, http.MethodPost, "/api/v1/plans", map[string]any{
		"playlist_url":     "PLcourse0001",
		"capacity_minutes": 30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[plans.View](t, rr)
	if created.DayCount != 3 || created.Name != "Go Course" {
		t.Fatalf("unexpected plan: %+v", created)
	}
	base := "/api/v1/plans/" + created.ID
	if rr.Header().Get("Location") != base {
		t.Fatalf("Location = %q", rr.Header().Get("Location"))
	}

	rr = doJSON(t, h, http.MethodGet, "/api/v1/plans", nil)
	list := decode[struct {
		Plans []models.Plan `json:"plans"`
		Total int64         `json:"total"`
	}](t, rr)
	if list.Total != 1 || len(list.Plans) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}

	rr = doJSON(t, h, http.MethodPatch, base+"/days/1", map[string]any{"completed": true})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"completed":true`) {
		t.Fatalf("patch day: status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := doJSON(t, h, http.MethodPatch, base+"/days/zero", map[string]any{"completed": true}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad index status = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodPatch, base+"/days/1", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing completed status = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodPatch, base+"/days/7", map[string]any{"completed": true}); rr.Code != http.StatusNotFound {
		t.Fatalf("missing day status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodGet, base+"/progress", nil)
	progress := decode[plans.Progress](t, rr)
	if progress.CompletedDays != 1 || progress.WatchedMinutes != 30 || progress.NextDay == nil || *progress.NextDay != 2 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	rr = doJSON(t, h, http.MethodGet, base+"/ical?start=2026-05-01&tz=Europe/Berlin", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ical status = %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar") ||
		!strings.Contains(rr.Body.String(), "DTSTART;VALUE=DATE:20260501") {
		t.Fatalf("unexpected ical: %s", rr.Body.String())
	}
	if rr := doJSON(t, h, http.MethodGet, base+"/ical?tz=Nowhere/Land", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad tz status = %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPut, base+"/capacity", map[string]any{"capacity_minutes": 20})
	if rr.Code != http.StatusOK {
		t.Fatalf("replan status = %d body=%s", rr.Code, rr.Body.String())
	}
	replanned := decode[plans.View](t, rr)
	if replanned.DayCount != 4 || replanned.CapacityMinutes != 20 {
		t.Fatalf("unexpected replan: %+v", replanned)
	}
	if rr := doJSON(t, h, http.MethodPut, base+"/capacity", map[string]any{"capacity_minutes": -1}); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative capacity status = %d", rr.Code)
	}

	if rr := doJSON(t, h, http.MethodDelete, base, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, base, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rr.Code)
	}
}

func TestCreatePlanErrors(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "no source", body: map[string]any{}, status: http.StatusBadRequest, code: "items_or_playlist_url_required"},
		{name: "bad url", body: map[string]any{"playlist_url": "https://example.com"}, status: http.StatusBadRequest, code: "invalid_playlist_url"},
		{name: "unknown playlist", body: map[string]any{"playlist_url": "PLunknown0001"}, status: http.StatusNotFound, code: "playlist_not_found"},
		{name: "negative capacity", body: map[string]any{"playlist_url": "PLcourse0001", "capacity_minutes": -3}, status: http.StatusBadRequest, code: "capacity_must_be_positive"},
		{name: "too many days", body: map[string]any{"items": []map[string]any{{"id": "x", "duration_minutes": 10000}}, "capacity_minutes": 1}, status: http.StatusUnprocessableEntity, code: "too_many_days"},
		{name: "unknown field", body: map[string]any{"capacity": 30}, status: http.StatusBadRequest, code: "invalid_json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, h, http.MethodPost, "/api/v1/plans", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (body=%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := decode[map[string]any](t, rr)["error"]; got != tt.code {
				t.Fatalf("error = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestRateLimitAndCORS(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 1}, nil)
	h, _ := newTestRouter(t, Options{Limiter: limiter, AllowedOrigins: []string{"chrome-extension://abcdef"}})

	if rr := doJSON(t, h, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr := doJSON(t, h, http.MethodGet, "/api/v1/health", nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d %v", rr.Code, rr.Header())
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/plans", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, req)
	if got := pre.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestPlanEventsWebsocket(t *testing.T) {
	h, _ := newTestRouter(t, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	rr := doJSON(t, h, http.MethodPost, "/api/v1/plans", map[string]any{
		"items": []map[string]any{{"id": "a", "title": "A", "duration_minutes": 50}},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}
	planID := decode[plans.View](t, rr).ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/plans/" + planID + "/events"
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// Give the handler a moment to subscribe after the handshake.
	time.Sleep(100 * time.Millisecond)

	if rr := doJSON(t, h, http.MethodPatch, "/api/v1/plans/"+planID+"/days/1", map[string]any{"completed": true}); rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rr.Code)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg.Type != string(events.EventPlanDayCompleted) || msg.Payload["plan_id"] != planID || msg.Payload["index"] != float64(1) {
		t.Fatalf("unexpected event: %+v", msg)
	}

	if rr := doJSON(t, h, http.MethodGet, "/api/v1/plans/missing/events", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown plan events status = %d", rr.Code)
	}
}
