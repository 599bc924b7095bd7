package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/perfharness/loaddriver/internal/types"
)

func TestEventLoggerCarriesBaseAttributes(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("job-1", "session-1", &buf)

	el.LogStateChange(types.StateNotStarted, types.StateStarting)

	var event map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if event["job_id"] != "job-1" || event["session"] != "session-1" {
		t.Errorf("base attributes missing: %v", event)
	}
	if event["msg"] != "state_change" {
		t.Errorf("msg = %v, want state_change", event["msg"])
	}
	if event["from"] != "not_started" || event["to"] != "starting" {
		t.Errorf("transition attributes wrong: %v", event)
	}
}

func TestEventLoggerEmitsOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	el := NewEventLoggerWithWriter("job-1", "", &buf)

	el.LogCalibration(12.5, types.Sentinel)
	el.LogRowsWritten("measurements", 11)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 event lines, got %d", len(lines))
	}
}

func TestNoopEventLoggerDiscards(t *testing.T) {
	el := NoopEventLogger()
	// Must not panic and must not write anywhere.
	el.LogGeneratorExit(0, 100, 0)
}
