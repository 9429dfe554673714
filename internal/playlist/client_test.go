package playlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

const testPlaylistID = "PLtest123456"

type fakeAPI struct {
	videos        int
	missing       map[string]bool
	itemsCalls    atomic.Int32
	videosCalls   atomic.Int32
	maxBatch      atomic.Int32
	status        int
	emptyPlaylist bool
}

func videoID(i int) string { return fmt.Sprintf("vid%05d", i) }

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/playlists", func(w http.ResponseWriter, r *http.Request) {
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("missing api key in %s", r.URL.RawQuery)
		}
		if f.emptyPlaylist {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		writeTestJSON(w, map[string]any{"items": []any{map[string]any{
			"id":      r.URL.Query().Get("id"),
			"snippet": map[string]any{"title": "Course", "channelTitle": "Gopher Academy"},
		}}})
	})
	mux.HandleFunc("/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		f.itemsCalls.Add(1)
		start := 0
		if tok := r.URL.Query().Get("pageToken"); tok != "" {
			fmt.Sscanf(tok, "page-%d", &start)
		}
		end := start + pageSize
		if end > f.videos {
			end = f.videos
		}
		items := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			items = append(items, map[string]any{
				"snippet":        map[string]any{"title": "Lesson " + videoID(i), "position": i},
				"contentDetails": map[string]any{"videoId": videoID(i)},
			})
		}
		resp := map[string]any{"items": items}
		if end < f.videos {
			resp["nextPageToken"] = fmt.Sprintf("page-%d", end)
		}
		writeTestJSON(w, resp)
	})
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		f.videosCalls.Add(1)
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		if n := int32(len(ids)); n > f.maxBatch.Load() {
			f.maxBatch.Store(n)
		}
		items := make([]any, 0, len(ids))
		for _, id := range ids {
			if f.missing[id] {
				continue
			}
			items = append(items, map[string]any{
				"id":             id,
				"contentDetails": map[string]any{"duration": "PT10M30S"},
			})
		}
		writeTestJSON(w, map[string]any{"items": items})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "secret"}, zerolog.Nop())
}

func TestClientFetchPlaylistPagesAndBatches(t *testing.T) {
	api := &fakeAPI{videos: 120, missing: map[string]bool{videoID(7): true}}
	client := newTestClient(t, api)

	pl, err := client.FetchPlaylist(context.Background(), testPlaylistID)
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}

	if pl.Title != "Course" || pl.ChannelTitle != "Gopher Academy" {
		t.Fatalf("unexpected metadata: %+v", pl)
	}
	if len(pl.Videos) != 119 {
		t.Fatalf("expected 119 videos after skipping one, got %d", len(pl.Videos))
	}
	for i := 1; i < len(pl.Videos); i++ {
		if pl.Videos[i].Position <= pl.Videos[i-1].Position {
			t.Fatalf("videos out of order at %d", i)
		}
	}
	if pl.Videos[0].DurationMinutes != 10.5 {
		t.Fatalf("duration = %v, want 10.5", pl.Videos[0].DurationMinutes)
	}
	if got := api.itemsCalls.Load(); got != 3 {
		t.Fatalf("playlistItems calls = %d, want 3", got)
	}
	if got := api.videosCalls.Load(); got != 3 {
		t.Fatalf("videos calls = %d, want 3", got)
	}
	if got := api.maxBatch.Load(); got > pageSize {
		t.Fatalf("videos batch of %d exceeds %d", got, pageSize)
	}
	if got := len(pl.Items()); got != 119 {
		t.Fatalf("Items() = %d", got)
	}
}

func TestClientRespectsMaxItems(t *testing.T) {
	api := &fakeAPI{videos: 200}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "secret", MaxItems: 60}, zerolog.Nop())

	pl, err := client.FetchPlaylist(context.Background(), testPlaylistID)
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
	if len(pl.Videos) != 60 {
		t.Fatalf("expected 60 videos, got %d", len(pl.Videos))
	}
	if got := api.itemsCalls.Load(); got != 2 {
		t.Fatalf("playlistItems calls = %d, want 2", got)
	}
}

func TestClientMapsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		api    *fakeAPI
		target error
	}{
		{name: "not found status", api: &fakeAPI{status: http.StatusNotFound}, target: ErrNotFound},
		{name: "empty result", api: &fakeAPI{emptyPlaylist: true}, target: ErrNotFound},
		{name: "forbidden", api: &fakeAPI{status: http.StatusForbidden}, target: ErrQuotaExceeded},
		{name: "too many requests", api: &fakeAPI{status: http.StatusTooManyRequests}, target: ErrQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.api)
			_, err := client.FetchPlaylist(context.Background(), testPlaylistID)
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}

	client := newTestClient(t, &fakeAPI{status: http.StatusBadGateway})
	_, err := client.FetchPlaylist(context.Background(), testPlaylistID)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
}

func TestClientRejectsInvalidID(t *testing.T) {
	client := NewClient(ClientConfig{}, zerolog.Nop())
	if _, err := client.FetchPlaylist(context.Background(), "bad id!"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}
