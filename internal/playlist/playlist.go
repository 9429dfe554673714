/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist fetches public playlist metadata from the video data API.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/playplan/internal/planner"
)

var (
	// ErrInvalidURL indicates the input is neither a playlist URL nor an id.
	ErrInvalidURL = errors.New("invalid playlist url")
	// ErrNotFound indicates the playlist does not exist or is private.
	ErrNotFound = errors.New("playlist not found")
	// ErrQuotaExceeded indicates the upstream API refused the request.
	ErrQuotaExceeded = errors.New("upstream quota exceeded")
)

// StatusError wraps an unexpected upstream HTTP status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Video is one playlist entry with a known duration.
type Video struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Position        int     `json:"position"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Playlist is the ordered metadata of a public playlist.
type Playlist struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ChannelTitle string    `json:"channel_title,omitempty"`
	Videos       []Video   `json:"videos"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Items converts the videos to scheduler input, preserving playlist order.
func (p *Playlist) Items() []planner.Item {
	out := make([]planner.Item, 0, len(p.Videos))
	for _, v := range p.Videos {
		out = append(out, planner.Item{ID: v.ID, Title: v.Title, DurationMinutes: v.DurationMinutes})
	}
	return out
}

// TotalMinutes sums video durations.
func (p *Playlist) TotalMinutes() float64 {
	return planner.SumDurations(p.Items())
}

// Source supplies playlists in canonical watch order.
type Source interface {
	FetchPlaylist(ctx context.Context, playlistID string) (*Playlist, error)
}
