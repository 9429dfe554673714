/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package plans

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/planner"
)

// View is the API representation of a plan.
type View struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	PlaylistID      string           `json:"playlist_id,omitempty"`
	SourceURL       string           `json:"source_url,omitempty"`
	CapacityMinutes float64          `json:"capacity_minutes"`
	TotalMinutes    float64          `json:"total_minutes"`
	ItemCount       int              `json:"item_count"`
	DayCount        int              `json:"day_count"`
	CompletedDays   int              `json:"completed_days"`
	Days            []planner.Period `json:"days"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewView flattens a stored plan.
func NewView(plan *models.Plan) View {
	days := ToPeriods(plan.Days)
	return View{
		ID:              plan.ID,
		Name:            plan.Name,
		PlaylistID:      plan.PlaylistID,
		SourceURL:       plan.SourceURL,
		CapacityMinutes: plan.CapacityMinutes,
		TotalMinutes:    plan.TotalMinutes,
		ItemCount:       plan.ItemCount,
		DayCount:        len(days),
		CompletedDays:   plan.CompletedDays(),
		Days:            days,
		CreatedAt:       plan.CreatedAt,
		UpdatedAt:       plan.UpdatedAt,
	}
}

// ToPeriods converts stored days back into scheduler periods, ordered by index.
func ToPeriods(days []models.PlanDay) []planner.Period {
	sorted := append([]models.PlanDay(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([]planner.Period, 0, len(sorted))
	for _, day := range sorted {
		segs := append([]models.PlanSegment(nil), day.Segments...)
		sort.Slice(segs, func(i, j int) bool { return segs[i].Position < segs[j].Position })

		period := planner.Period{Index: day.Index, Completed: day.Completed, Segments: make([]planner.Segment, 0, len(segs))}
		for _, seg := range segs {
			period.Segments = append(period.Segments, planner.Segment{
				ItemID:              seg.ItemID,
				ItemTitle:           seg.ItemTitle,
				ItemDurationMinutes: seg.ItemDurationMinutes,
				StartOffsetMinutes:  seg.StartOffsetMinutes,
				EndOffsetMinutes:    seg.EndOffsetMinutes,
			})
		}
		out = append(out, period)
	}
	return out
}

// FromPeriods builds storable days for planID with fresh ids.
func FromPeriods(planID string, periods []planner.Period) []models.PlanDay {
	days := make([]models.PlanDay, 0, len(periods))
	for _, p := range periods {
		day := models.PlanDay{
			ID:           uuid.NewString(),
			PlanID:       planID,
			Index:        p.Index,
			TotalMinutes: p.TotalMinutes(),
			Completed:    p.Completed,
			Segments:     make([]models.PlanSegment, 0, len(p.Segments)),
		}
		for pos, seg := range p.Segments {
			day.Segments = append(day.Segments, models.PlanSegment{
				ID:                  uuid.NewString(),
				PlanDayID:           day.ID,
				Position:            pos,
				ItemID:              seg.ItemID,
				ItemTitle:           seg.ItemTitle,
				ItemDurationMinutes: seg.ItemDurationMinutes,
				StartOffsetMinutes:  seg.StartOffsetMinutes,
				EndOffsetMinutes:    seg.EndOffsetMinutes,
			})
		}
		days = append(days, day)
	}
	return days
}

// ItemsFromPeriods recovers the ordered item list a schedule was built from.
// A new item starts whenever the id changes or the previous slice reached
// the end of its item and the next one starts at zero.
func ItemsFromPeriods(periods []planner.Period) []planner.Item {
	var items []planner.Item
	var last *planner.Segment
	for _, p := range periods {
		for i := range p.Segments {
			seg := p.Segments[i]
			continues := last != nil &&
				last.ItemID == seg.ItemID &&
				!(last.ToEnd() && seg.FromStart())
			if !continues {
				items = append(items, planner.Item{
					ID:              seg.ItemID,
					Title:           seg.ItemTitle,
					DurationMinutes: seg.ItemDurationMinutes,
				})
			}
			last = &p.Segments[i]
		}
	}
	return items
}

// watchedPrefix sums the minutes of the leading run of completed periods.
func watchedPrefix(periods []planner.Period) float64 {
	var total float64
	for _, p := range periods {
		if !p.Completed {
			break
		}
		total += p.TotalMinutes()
	}
	return total
}

// carryProgress marks new periods complete while they fall inside the
// minutes already watched.
func carryProgress(periods []planner.Period, watched float64) {
	if watched <= 0 {
		return
	}
	var cum float64
	for i := range periods {
		cum += periods[i].TotalMinutes()
		if cum > watched+planner.Epsilon {
			return
		}
		periods[i].Completed = true
	}
}
