/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"encoding/json"
	"fmt"
)

// Epsilon is the absolute tolerance, in minutes, used to decide that a period
// is full or an item is exhausted. It absorbs floating point drift and is not
// a clock precision.
const Epsilon = 0.01

// Item is one schedulable unit, typically a playlist video.
type Item struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Segment is a contiguous slice of one item assigned to one period.
type Segment struct {
	ItemID              string
	ItemTitle           string
	ItemDurationMinutes float64
	StartOffsetMinutes  float64
	EndOffsetMinutes    float64
}

// DurationMinutes returns the length of the slice.
func (s Segment) DurationMinutes() float64 {
	return s.EndOffsetMinutes - s.StartOffsetMinutes
}

// IsPartial reports whether the segment covers less than the whole item.
func (s Segment) IsPartial() bool {
	return s.StartOffsetMinutes > 0 || s.EndOffsetMinutes < s.ItemDurationMinutes
}

// FromStart reports whether viewing begins at the very start of the item.
func (s Segment) FromStart() bool {
	return s.StartOffsetMinutes == 0
}

// ToEnd reports whether viewing runs to the very end of the item.
func (s Segment) ToEnd() bool {
	return s.EndOffsetMinutes == s.ItemDurationMinutes
}

type segmentJSON struct {
	ItemID              string  `json:"item_id"`
	ItemTitle           string  `json:"item_title"`
	ItemDurationMinutes float64 `json:"item_duration_minutes"`
	StartOffsetMinutes  float64 `json:"start_offset_minutes"`
	EndOffsetMinutes    float64 `json:"end_offset_minutes"`
	DurationMinutes     float64 `json:"duration_minutes"`
	IsPartial           bool    `json:"is_partial"`
}

// MarshalJSON includes the derived duration and partial flag.
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{
		ItemID:              s.ItemID,
		ItemTitle:           s.ItemTitle,
		ItemDurationMinutes: s.ItemDurationMinutes,
		StartOffsetMinutes:  s.StartOffsetMinutes,
		EndOffsetMinutes:    s.EndOffsetMinutes,
		DurationMinutes:     s.DurationMinutes(),
		IsPartial:           s.IsPartial(),
	})
}

// UnmarshalJSON ignores the derived fields.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Segment{
		ItemID:              raw.ItemID,
		ItemTitle:           raw.ItemTitle,
		ItemDurationMinutes: raw.ItemDurationMinutes,
		StartOffsetMinutes:  raw.StartOffsetMinutes,
		EndOffsetMinutes:    raw.EndOffsetMinutes,
	}
	return nil
}

// Period is one scheduling bucket, usually a day.
type Period struct {
	Index    int
	Segments []Segment
	// Completed is owned by progress tracking; Schedule never sets it.
	Completed bool
}

// TotalMinutes sums the period's segment durations.
func (p Period) TotalMinutes() float64 {
	var total float64
	for _, seg := range p.Segments {
		total += seg.DurationMinutes()
	}
	return total
}

type periodJSON struct {
	Index        int       `json:"index"`
	Segments     []Segment `json:"segments"`
	TotalMinutes float64   `json:"total_minutes"`
	Completed    bool      `json:"completed"`
}

// MarshalJSON includes the derived total.
func (p Period) MarshalJSON() ([]byte, error) {
	segments := p.Segments
	if segments == nil {
		segments = []Segment{}
	}
	return json.Marshal(periodJSON{
		Index:        p.Index,
		Segments:     segments,
		TotalMinutes: p.TotalMinutes(),
		Completed:    p.Completed,
	})
}

// UnmarshalJSON ignores the derived total.
func (p *Period) UnmarshalJSON(data []byte) error {
	var raw periodJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Period{Index: raw.Index, Segments: raw.Segments, Completed: raw.Completed}
	return nil
}

// InvalidInputError reports a malformed item duration or capacity.
type InvalidInputError struct {
	// ItemIndex is the position of the offending item, or -1 for the capacity.
	ItemIndex int
	ItemID    string
	Value     float64
	Reason    string
}

func (e *InvalidInputError) Error() string {
	if e.ItemIndex < 0 {
		return fmt.Sprintf("invalid capacity %v: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid item %d (%q) duration %v: %s", e.ItemIndex, e.ItemID, e.Value, e.Reason)
}
