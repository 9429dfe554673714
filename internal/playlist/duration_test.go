package playlist

import (
	"math"
	"testing"
)

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"", 0},
		{"P0D", 0},
		{"PT0S", 0},
		{"PT45S", 0.75},
		{"PT4M13S", 4 + 13.0/60},
		{"PT1H", 60},
		{"PT1H2M3S", 62.05},
		{"P1DT2H", 26 * 60},
		{"PT1.5S", 0.025},
	}

	for _, tt := range tests {
		got, err := ParseISODuration(tt.input)
		if err != nil {
			t.Fatalf("ParseISODuration(%q) error: %v", tt.input, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("ParseISODuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseISODurationRejectsMalformed(t *testing.T) {
	for _, input := range []string{"P", "PT", "1H", "PT1X", "PT-5M", "P1W"} {
		if _, err := ParseISODuration(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}
