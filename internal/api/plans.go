/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/planner"
	"github.com/friendsincode/playplan/internal/plans"
)

type planCreateRequest struct {
	Name            string         `json:"name"`
	PlaylistURL     string         `json:"playlist_url"`
	Items           []planner.Item `json:"items"`
	CapacityMinutes *float64       `json:"capacity_minutes"`
}

type capacityRequest struct {
	CapacityMinutes *float64 `json:"capacity_minutes"`
}

type dayUpdateRequest struct {
	Completed *bool `json:"completed"`
}

func (a *API) handlePlansList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	list, total, err := a.plans.List(r.Context(), limit, offset)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []models.Plan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": list, "total": total})
}

func (a *API) handlePlansCreate(w http.ResponseWriter, r *http.Request) {
	var req planCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	create := plans.CreateRequest{Name: req.Name, PlaylistURL: req.PlaylistURL, Items: req.Items}
	if req.CapacityMinutes != nil {
		if *req.CapacityMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "capacity_must_be_positive")
			return
		}
		create.CapacityMinutes = *req.CapacityMinutes
	}

	plan, err := a.plans.Create(r.Context(), create)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/plans/"+plan.ID)
	writeJSON(w, http.StatusCreated, plans.NewView(plan))
}

func (a *API) handlePlansGet(w http.ResponseWriter, r *http.Request) {
	plan, err := a.plans.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans.NewView(plan))
}

func (a *API) handlePlansDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.plans.Delete(r.Context(), chi.URLParam(r, "planID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePlansReplan(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CapacityMinutes == nil || *req.CapacityMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "capacity_must_be_positive")
		return
	}

	plan, err := a.plans.Replan(r.Context(), chi.URLParam(r, "planID"), *req.CapacityMinutes)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans.NewView(plan))
}

func (a *API) handlePlanDayUpdate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 1 {
		writeError(w, http.StatusBadRequest, "invalid_day_index")
		return
	}

	var req dayUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Completed == nil {
		writeError(w, http.StatusBadRequest, "completed_required")
		return
	}

	day, err := a.plans.SetDayCompleted(r.Context(), chi.URLParam(r, "planID"), index, *req.Completed)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans.ToPeriods([]models.PlanDay{*day})[0])
}

func (a *API) handlePlanProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := a.plans.Progress(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handlePlanICal exports the plan as a calendar. start is YYYY-MM-DD in tz
// and defaults to today.
func (a *API) handlePlanICal(w http.ResponseWriter, r *http.Request) {
	loc := time.UTC
	if tz := r.URL.Query().Get("tz"); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timezone")
			return
		}
		loc = parsed
	}

	start := time.Now().In(loc)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_date")
			return
		}
		start = parsed
	}

	plan, err := a.plans.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	result := plans.ExportICal(plan, start, loc, time.Now())
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
