/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/playplan/internal/cache"
)

// CachedSource serves playlists from the cache and collapses concurrent
// upstream fetches for the same id.
type CachedSource struct {
	source Source
	store  cache.Store
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCachedSource wraps source with store.
func NewCachedSource(source Source, store cache.Store, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		source: source,
		store:  store,
		logger: logger.With().Str("component", "playlist_cache").Logger(),
	}
}

// FetchPlaylist implements Source.
func (s *CachedSource) FetchPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	if data, ok := s.store.GetPlaylist(ctx, playlistID); ok {
		var pl Playlist
		if err := json.Unmarshal(data, &pl); err == nil {
			return &pl, nil
		}
		s.logger.Debug().Str("playlist_id", playlistID).Msg("discarding undecodable cached playlist")
	}

	v, err, shared := s.group.Do(playlistID, func() (any, error) {
		pl, err := s.source.FetchPlaylist(ctx, playlistID)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(pl)
		if err == nil {
			if err := s.store.SetPlaylist(ctx, playlistID, data); err != nil {
				s.logger.Debug().Err(err).Str("playlist_id", playlistID).Msg("failed to cache playlist")
			}
		}
		return pl, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().Str("playlist_id", playlistID).Msg("shared upstream fetch")
	}

	// Callers get their own copy so a shared result is never mutated across requests.
	pl := *v.(*Playlist)
	pl.Videos = append([]Video(nil), pl.Videos...)
	return &pl, nil
}

// Invalidate drops the cached copy of a playlist.
func (s *CachedSource) Invalidate(ctx context.Context, playlistID string) error {
	return s.store.InvalidatePlaylist(ctx, playlistID)
}
