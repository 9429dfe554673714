/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"fmt"
	"regexp"
	"strconv"
)

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration converts an ISO 8601 duration such as PT1H2M3S to minutes.
// An empty string or P0D is zero, which is what the data API reports for
// live streams and premieres.
func ParseISODuration(value string) (float64, error) {
	if value == "" || value == "P0D" {
		return 0, nil
	}

	m := isoDurationPattern.FindStringSubmatch(value)
	if m == nil || value == "P" || value == "PT" {
		return 0, fmt.Errorf("parse duration %q: unsupported format", value)
	}

	var minutes float64
	units := []float64{24 * 60, 60, 1, 1.0 / 60}
	for i, unit := range units {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", value, err)
		}
		minutes += n * unit
	}
	return minutes, nil
}
