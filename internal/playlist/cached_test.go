package playlist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/playplan/internal/cache"
)

type countingSource struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *countingSource) FetchPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Playlist{
		ID:     playlistID,
		Title:  "Cached",
		Videos: []Video{{ID: "a", Title: "A", DurationMinutes: 12}, {ID: "b", Title: "B", DurationMinutes: 8}},
	}, nil
}

func newMemoryStore() *cache.Memory {
	return cache.NewMemory(cache.Config{PlaylistTTL: time.Minute}, nil, nil)
}

func TestCachedSourceServesFromCache(t *testing.T) {
	src := &countingSource{}
	cached := NewCachedSource(src, newMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	first, err := cached.FetchPlaylist(ctx, testPlaylistID)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	first.Videos[0].Title = "mutated"

	second, err := cached.FetchPlaylist(ctx, testPlaylistID)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", src.calls.Load())
	}
	if second.Videos[0].Title != "A" {
		t.Fatalf("cached copy was mutated: %q", second.Videos[0].Title)
	}
	if second.TotalMinutes() != 20 {
		t.Fatalf("TotalMinutes = %v", second.TotalMinutes())
	}

	if err := cached.Invalidate(ctx, testPlaylistID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cached.FetchPlaylist(ctx, testPlaylistID); err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if src.calls.Load() != 2 {
		t.Fatalf("upstream calls after invalidate = %d, want 2", src.calls.Load())
	}
}

func TestCachedSourceCollapsesConcurrentFetches(t *testing.T) {
	src := &countingSource{release: make(chan struct{})}
	cached := NewCachedSource(src, newMemoryStore(), zerolog.Nop())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.FetchPlaylist(context.Background(), testPlaylistID)
			errs <- err
		}()
	}

	// Let the goroutines pile up on the in-flight fetch.
	deadline := time.Now().Add(time.Second)
	for src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("fetch error: %v", err)
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestCachedSourceDoesNotCacheErrors(t *testing.T) {
	src := &countingSource{err: ErrNotFound}
	cached := NewCachedSource(src, newMemoryStore(), zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := cached.FetchPlaylist(context.Background(), testPlaylistID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if src.calls.Load() != 2 {
		t.Fatalf("upstream calls = %d, want 2", src.calls.Load())
	}
}
