package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSetupProductionWritesJSON(t *testing.T) {
	t.Setenv("PLAYPLAN_LOG_LEVEL", "")
	var out bytes.Buffer
	logger := SetupWithWriter("production", &out, nil)

	logger.Debug().Msg("hidden")
	logger.Info().Str("plan_id", "p1").Msg("plan created")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", out.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON line: %v", err)
	}
	if entry["plan_id"] != "p1" || entry["message"] != "plan created" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestSetupLevelOverrideAndTee(t *testing.T) {
	t.Setenv("PLAYPLAN_LOG_LEVEL", "warn")
	var out, tee bytes.Buffer
	logger := SetupWithWriter("development", &out, &tee)

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	if strings.Contains(out.String(), "quiet") || !strings.Contains(out.String(), "loud") {
		t.Fatalf("unexpected console output: %q", out.String())
	}
	if !strings.Contains(tee.String(), `"message":"loud"`) {
		t.Fatalf("expected JSON in tee writer: %q", tee.String())
	}
}
