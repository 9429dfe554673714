/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/playplan/internal/events"
	"github.com/friendsincode/playplan/internal/planner"
	"github.com/friendsincode/playplan/internal/plans"
	"github.com/friendsincode/playplan/internal/playlist"
	"github.com/friendsincode/playplan/internal/ratelimit"
)

// maxBodyBytes bounds request bodies; an item list of a few thousand videos fits easily.
const maxBodyBytes = 4 << 20

// API exposes HTTP handlers.
type API struct {
	plans          *plans.Service
	playlists      playlist.Source
	bus            *events.Bus
	limiter        *ratelimit.Limiter
	allowedOrigins []string
	logger         zerolog.Logger
}

// Options carries optional collaborators.
type Options struct {
	Limiter        *ratelimit.Limiter
	AllowedOrigins []string
}

// New creates the API router wrapper.
func New(planSvc *plans.Service, playlists playlist.Source, bus *events.Bus, opts Options, logger zerolog.Logger) *API {
	return &API{
		plans:          planSvc,
		playlists:      playlists,
		bus:            bus,
		limiter:        opts.Limiter,
		allowedOrigins: opts.AllowedOrigins,
		logger:         logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware(a.allowedOrigins))
		if a.limiter != nil {
			r.Use(a.limiter.Middleware(ratelimit.ClientIP))
		}

		r.Get("/health", a.handleHealth)
		r.Post("/schedule", a.handleSchedule)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/resolve", a.handlePlaylistResolve)
			r.Get("/{playlistID}", a.handlePlaylistGet)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", a.handlePlansList)
			r.Post("/", a.handlePlansCreate)
			r.Route("/{planID}", func(r chi.Router) {
				r.Get("/", a.handlePlansGet)
				r.Delete("/", a.handlePlansDelete)
				r.Put("/capacity", a.handlePlansReplan)
				r.Patch("/days/{index}", a.handlePlanDayUpdate)
				r.Get("/progress", a.handlePlanProgress)
				r.Get("/ical", a.handlePlanICal)
				r.Get("/events", a.handlePlanEvents)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var invalid *planner.InvalidInputError
	var upstream *playlist.StatusError

	switch {
	case errors.As(err, &invalid):
		body := map[string]any{"error": "invalid_input", "reason": invalid.Reason}
		if invalid.ItemIndex >= 0 {
			body["item_index"] = invalid.ItemIndex
			body["item_id"] = invalid.ItemID
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, plans.ErrNoSource):
		writeError(w, http.StatusBadRequest, "items_or_playlist_url_required")
	case errors.Is(err, playlist.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "invalid_playlist_url")
	case errors.Is(err, plans.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, playlist.ErrNotFound):
		writeError(w, http.StatusNotFound, "playlist_not_found")
	case errors.Is(err, plans.ErrNothingToSchedule):
		writeError(w, http.StatusUnprocessableEntity, "nothing_to_schedule")
	case errors.Is(err, plans.ErrTooManyPeriods):
		writeError(w, http.StatusUnprocessableEntity, "too_many_days")
	case errors.Is(err, playlist.ErrQuotaExceeded):
		writeError(w, http.StatusServiceUnavailable, "upstream_quota_exceeded")
	case errors.As(err, &upstream):
		a.logger.Warn().Err(err).Msg("upstream error")
		writeError(w, http.StatusBadGateway, "upstream_error")
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
