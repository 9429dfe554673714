package plans

import (
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/playplan/internal/models"
	"github.com/friendsincode/playplan/internal/planner"
)

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{4.5, "4:30"},
		{62.05, "1:02:03"},
		{-1, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatMinutes(tt.in); got != tt.want {
			t.Fatalf("FormatMinutes(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExportICal(t *testing.T) {
	periods, err := planner.Schedule([]planner.Item{
		{ID: "a", Title: "Intro, part one", DurationMinutes: 25},
		{ID: "b", Title: "Types; deep dive", DurationMinutes: 40},
	}, 30)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	periods[0].Completed = true

	plan := &models.Plan{ID: "plan-1", Name: "Go Course", Days: FromPeriods("plan-1", periods)}
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC) // already 2 March in loc
	stamp := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	out := ExportICal(plan, start, loc, stamp)
	ics := string(out.Data)

	if out.Filename != "go-course-plan-from-2026-03-02.ics" {
		t.Fatalf("Filename = %q", out.Filename)
	}
	if strings.Count(ics, "BEGIN:VEVENT") != len(periods) {
		t.Fatalf("expected %d events:\n%s", len(periods), ics)
	}
	for _, want := range []string{
		"UID:plan-1-day-1@playplan\r\n",
		"DTSTART;VALUE=DATE:20260302\r\n",
		"DTEND;VALUE=DATE:20260303\r\n",
		"DTSTART;VALUE=DATE:20260304\r\n",
		"DTSTAMP:20260201T000000Z\r\n",
		"CATEGORIES:completed\r\n",
		"Intro\\, part one (25:00)",
	} {
		if !strings.Contains(ics, want) {
			t.Fatalf("missing %q in:\n%s", want, ics)
		}
	}
	if strings.Count(ics, "CATEGORIES:completed") != 1 {
		t.Fatalf("only the first day is completed:\n%s", ics)
	}

	for _, line := range strings.Split(ics, "\r\n") {
		if len(line) > 75 {
			t.Fatalf("line exceeds 75 octets: %q", line)
		}
	}
}
