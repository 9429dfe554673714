package models

import (
	"time"
)

// Plan is a persisted day-by-day viewing schedule for one playlist.
type Plan struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string    `gorm:"index" json:"name"`
	PlaylistID      string    `gorm:"type:varchar(64);index" json:"playlist_id,omitempty"`
	SourceURL       string    `gorm:"type:text" json:"source_url,omitempty"`
	CapacityMinutes float64   `json:"capacity_minutes"`
	TotalMinutes    float64   `json:"total_minutes"`
	ItemCount       int       `json:"item_count"`
	Days            []PlanDay `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE" json:"days,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PlanDay is one period of a plan.
type PlanDay struct {
	ID           string        `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID       string        `gorm:"type:uuid;index;uniqueIndex:idx_plan_day_index,priority:1" json:"plan_id"`
	Index        int           `gorm:"column:day_index;uniqueIndex:idx_plan_day_index,priority:2" json:"index"`
	TotalMinutes float64       `json:"total_minutes"`
	Completed    bool          `json:"completed"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Segments     []PlanSegment `gorm:"foreignKey:PlanDayID;constraint:OnDelete:CASCADE" json:"segments"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// PlanSegment is a (possibly partial) slice of one video within a day.
type PlanSegment struct {
	ID                  string  `gorm:"type:uuid;primaryKey" json:"id"`
	PlanDayID           string  `gorm:"type:uuid;index" json:"plan_day_id"`
	Position            int     `json:"position"`
	ItemID              string  `gorm:"type:varchar(64)" json:"item_id"`
	ItemTitle           string  `gorm:"type:text" json:"item_title"`
	ItemDurationMinutes float64 `json:"item_duration_minutes"`
	StartOffsetMinutes  float64 `json:"start_offset_minutes"`
	EndOffsetMinutes    float64 `json:"end_offset_minutes"`
}

// IsPartial mirrors the scheduler's derived flag.
func (s PlanSegment) IsPartial() bool {
	return s.StartOffsetMinutes > 0 || s.EndOffsetMinutes < s.ItemDurationMinutes
}

// CompletedDays counts days marked complete.
func (p *Plan) CompletedDays() int {
	n := 0
	for _, d := range p.Days {
		if d.Completed {
			n++
		}
	}
	return n
}
