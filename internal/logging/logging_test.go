package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONLoggerStampsService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "debug", Service: "marketsync"})
	logger.Debug().Int64("chain_id", 1).Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "marketsync" || entry["message"] != "hello" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestLevelFiltersAndDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "warn"})
	logger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info entry should be filtered at warn level: %q", buf.String())
	}

	buf.Reset()
	logger = NewLoggerTo(&buf, Config{Level: "nonsense"})
	logger.Info().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("invalid level should fall back to info: %q", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Format: "console"})
	logger.Info().Str("component", "reconciler").Msg("cycle done")

	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Fatalf("console format should not emit JSON: %q", out)
	}
	if !strings.Contains(out, "cycle done") || !strings.Contains(out, "component=reconciler") {
		t.Fatalf("unexpected console output %q", out)
	}
}
