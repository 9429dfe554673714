/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner partitions an ordered list of timed items into fixed
// capacity periods, splitting items across period boundaries.
package planner

import (
	"errors"
	"math"
)

// ErrPeriodLimit is returned by ScheduleLimit when the schedule would need
// more periods than allowed.
var ErrPeriodLimit = errors.New("planner: period limit exceeded")

// Schedule packs items, in order, into periods of capacityMinutes each.
//
// An empty item list or a capacity that is not a positive finite number
// yields an empty result. A NaN capacity or an item with a negative or
// non-finite duration returns an *InvalidInputError and no periods, as does
// an item so long that subtracting a period's capacity no longer changes
// what is left of it.
func Schedule(items []Item, capacityMinutes float64) ([]Period, error) {
	return ScheduleLimit(items, capacityMinutes, 0)
}

// ScheduleLimit is Schedule with an upper bound on the number of periods.
// It fails with ErrPeriodLimit as soon as the bound is certain to be
// exceeded, before building the periods past it. A maxPeriods of zero or
// less means no bound.
func ScheduleLimit(items []Item, capacityMinutes float64, maxPeriods int) ([]Period, error) {
	if math.IsNaN(capacityMinutes) {
		return nil, &InvalidInputError{ItemIndex: -1, Value: capacityMinutes, Reason: "capacity is NaN"}
	}
	for i, item := range items {
		if err := validateItem(i, item); err != nil {
			return nil, err
		}
	}

	periods := []Period{}
	if len(items) == 0 || capacityMinutes <= 0 || math.IsInf(capacityMinutes, 1) {
		return periods, nil
	}
	// No period holds more than capacity plus Epsilon, so this is a lower
	// bound on the period count.
	if maxPeriods > 0 && SumDurations(items)/(capacityMinutes+Epsilon) > float64(maxPeriods) {
		return nil, ErrPeriodLimit
	}

	var (
		open      *Period
		remaining float64
		last      = len(items) - 1
	)

	for i, item := range items {
		cursor := 0.0
		left := item.DurationMinutes

		for {
			if open == nil {
				open = &Period{Index: len(periods) + 1}
				remaining = capacityMinutes
			}

			watchable := math.Min(left, remaining)
			next := left - watchable
			if watchable > 0 && next >= left {
				return nil, &InvalidInputError{ItemIndex: i, ItemID: item.ID, Value: item.DurationMinutes, Reason: "duration too large for capacity"}
			}
			end := cursor + watchable
			left = next
			remaining -= watchable

			exhausted := left <= Epsilon
			if exhausted {
				// Snap the tail onto this segment so the item is covered
				// exactly; the overshoot stays within Epsilon.
				remaining -= left
				left = 0
				end = item.DurationMinutes
			}

			open.Segments = append(open.Segments, Segment{
				ItemID:              item.ID,
				ItemTitle:           item.Title,
				ItemDurationMinutes: item.DurationMinutes,
				StartOffsetMinutes:  cursor,
				EndOffsetMinutes:    end,
			})
			cursor = end

			// Zero-length segments never close a period on their own.
			if watchable > 0 && (remaining <= Epsilon || (i == last && exhausted)) {
				if maxPeriods > 0 && len(periods) >= maxPeriods {
					return nil, ErrPeriodLimit
				}
				periods = append(periods, *open)
				open = nil
			}

			if exhausted {
				break
			}
		}
	}

	if open != nil && len(open.Segments) > 0 {
		if n := len(periods); n > 0 && onlyEmptySegments(open.Segments) {
			// Trailing zero-duration items ride along with the last period
			// rather than opening one of their own.
			periods[n-1].Segments = append(periods[n-1].Segments, open.Segments...)
		} else {
			if maxPeriods > 0 && len(periods) >= maxPeriods {
				return nil, ErrPeriodLimit
			}
			periods = append(periods, *open)
		}
	}

	return periods, nil
}

// TotalMinutes sums every segment across periods.
func TotalMinutes(periods []Period) float64 {
	var total float64
	for _, p := range periods {
		total += p.TotalMinutes()
	}
	return total
}

// SumDurations sums item durations.
func SumDurations(items []Item) float64 {
	var total float64
	for _, item := range items {
		total += item.DurationMinutes
	}
	return total
}

func validateItem(index int, item Item) *InvalidInputError {
	d := item.DurationMinutes
	switch {
	case math.IsNaN(d):
		return &InvalidInputError{ItemIndex: index, ItemID: item.ID, Value: d, Reason: "duration is NaN"}
	case math.IsInf(d, 0):
		return &InvalidInputError{ItemIndex: index, ItemID: item.ID, Value: d, Reason: "duration is infinite"}
	case d < 0:
		return &InvalidInputError{ItemIndex: index, ItemID: item.ID, Value: d, Reason: "duration is negative"}
	}
	return nil
}

func onlyEmptySegments(segments []Segment) bool {
	for _, seg := range segments {
		if seg.DurationMinutes() != 0 {
			return false
		}
	}
	return true
}
