/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package plans

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/friendsincode/playplan/internal/models"
)

// ExportICalResult contains the iCal export data.
type ExportICalResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ExportICal renders one all-day event per plan day, starting at start in loc.
func ExportICal(plan *models.Plan, start time.Time, loc *time.Location, stamp time.Time) *ExportICalResult {
	if loc == nil {
		loc = time.UTC
	}
	first := time.Date(start.In(loc).Year(), start.In(loc).Month(), start.In(loc).Day(), 0, 0, 0, 0, loc)

	var buf bytes.Buffer
	writeLine(&buf, "BEGIN:VCALENDAR")
	writeLine(&buf, "VERSION:2.0")
	writeLine(&buf, "PRODID:-//Playplan//Viewing Plan Export//EN")
	writeLine(&buf, "X-WR-CALNAME:"+escapeICalText(plan.Name))
	writeLine(&buf, "CALSCALE:GREGORIAN")
	writeLine(&buf, "METHOD:PUBLISH")

	for _, period := range ToPeriods(plan.Days) {
		day := first.AddDate(0, 0, period.Index-1)

		var desc strings.Builder
		for i, seg := range period.Segments {
			if i > 0 {
				desc.WriteString("\n")
			}
			desc.WriteString(seg.ItemTitle)
			if seg.IsPartial() {
				fmt.Fprintf(&desc, " (%s-%s)", FormatMinutes(seg.StartOffsetMinutes), FormatMinutes(seg.EndOffsetMinutes))
			} else {
				fmt.Fprintf(&desc, " (%s)", FormatMinutes(seg.ItemDurationMinutes))
			}
		}

		writeLine(&buf, "BEGIN:VEVENT")
		writeLine(&buf, fmt.Sprintf("UID:%s-day-%d@playplan", plan.ID, period.Index))
		writeLine(&buf, "DTSTAMP:"+formatICalTime(stamp))
		writeLine(&buf, "DTSTART;VALUE=DATE:"+day.Format("20060102"))
		writeLine(&buf, "DTEND;VALUE=DATE:"+day.AddDate(0, 0, 1).Format("20060102"))
		writeLine(&buf, "SUMMARY:"+escapeICalText(fmt.Sprintf("%s: day %d (%s)", plan.Name, period.Index, FormatMinutes(period.TotalMinutes()))))
		if desc.Len() > 0 {
			writeLine(&buf, "DESCRIPTION:"+escapeICalText(desc.String()))
		}
		if period.Completed {
			writeLine(&buf, "CATEGORIES:completed")
		}
		writeLine(&buf, "TRANSP:TRANSPARENT")
		writeLine(&buf, "END:VEVENT")
	}

	writeLine(&buf, "END:VCALENDAR")

	return &ExportICalResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("%s-plan-from-%s.ics", slugify(plan.Name), first.Format("2006-01-02")),
		ContentType: "text/calendar; charset=utf-8",
	}
}

// FormatMinutes renders fractional minutes as m:ss or h:mm:ss.
func FormatMinutes(minutes float64) string {
	total := int(math.Round(minutes * 60))
	if total < 0 {
		total = 0
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// writeLine folds content lines at 75 octets without splitting runes.
func writeLine(buf *bytes.Buffer, line string) {
	limit := 75
	for len(line) > limit {
		cut := limit
		for cut > 1 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		buf.WriteString(line[:cut])
		buf.WriteString("\r\n ")
		line = line[cut:]
		limit = 74 // continuation lines start with a space
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

// Helper functions

func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "plan"
	}
	return out
}
