/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/playplan/internal/planner"
	"github.com/friendsincode/playplan/internal/playlist"
)

type scheduleRequest struct {
	Items           []planner.Item `json:"items"`
	PlaylistURL     string         `json:"playlist_url"`
	CapacityMinutes *float64       `json:"capacity_minutes"`
}

type scheduleResponse struct {
	PlaylistID      string           `json:"playlist_id,omitempty"`
	CapacityMinutes float64          `json:"capacity_minutes"`
	TotalMinutes    float64          `json:"total_minutes"`
	DayCount        int              `json:"day_count"`
	Days            []planner.Period `json:"days"`
}

// handleSchedule previews a schedule without storing it.
func (a *API) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	capacity := a.plans.DefaultCapacity()
	if req.CapacityMinutes != nil {
		capacity = *req.CapacityMinutes
	}

	resp := scheduleResponse{CapacityMinutes: capacity}
	items := req.Items
	if len(items) == 0 && strings.TrimSpace(req.PlaylistURL) != "" {
		pl, ok := a.fetchPlaylist(w, r, req.PlaylistURL)
		if !ok {
			return
		}
		items = pl.Items()
		resp.PlaylistID = pl.ID
	}

	periods, err := a.plans.Schedule(items, capacity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp.Days = periods
	resp.DayCount = len(periods)
	resp.TotalMinutes = planner.TotalMinutes(periods)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) fetchPlaylist(w http.ResponseWriter, r *http.Request, raw string) (*playlist.Playlist, bool) {
	if a.playlists == nil {
		writeError(w, http.StatusServiceUnavailable, "playlist_source_unavailable")
		return nil, false
	}
	id, err := playlist.ParsePlaylistURL(raw)
	if err != nil {
		a.writeServiceError(w, err)
		return nil, false
	}
	pl, err := a.playlists.FetchPlaylist(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return nil, false
	}
	return pl, true
}

func (a *API) handlePlaylistResolve(w http.ResponseWriter, r *http.Request) {
	id, err := playlist.ParsePlaylistURL(r.URL.Query().Get("url"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"playlist_id": id})
}

type playlistResponse struct {
	*playlist.Playlist
	VideoCount   int     `json:"video_count"`
	TotalMinutes float64 `json:"total_minutes"`
}

func (a *API) handlePlaylistGet(w http.ResponseWriter, r *http.Request) {
	pl, ok := a.fetchPlaylist(w, r, chi.URLParam(r, "playlistID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, playlistResponse{
		Playlist:     pl,
		VideoCount:   len(pl.Videos),
		TotalMinutes: pl.TotalMinutes(),
	})
}
