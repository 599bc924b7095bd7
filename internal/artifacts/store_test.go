package artifacts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/perfharness/loaddriver/internal/types"
)

func TestStore_SaveAndGetOutput(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveOutput("job-1", "Requests/sec: 100\n", "warning\n"); err != nil {
		t.Fatalf("SaveOutput failed: %v", err)
	}

	data, err := s.Get("job-1", KindOutput, "stdout.txt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "Requests/sec: 100\n" {
		t.Errorf("stdout artifact = %q", data)
	}

	if _, err := s.Get("job-1", KindOutput, "stderr.txt"); err != nil {
		t.Errorf("stderr artifact missing: %v", err)
	}
}

func TestStore_EmptyStderrNotStored(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveOutput("job-1", "out\n", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("job-1", KindOutput, "stderr.txt"); err == nil {
		t.Error("empty stderr should not produce an artifact")
	}
}

func TestStore_SaveStatisticsRoundTrips(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	stats := types.NewStatistics()
	stats.RequestsPerSecond = 12345.6
	if err := s.SaveStatistics("job-1", stats); err != nil {
		t.Fatal(err)
	}

	data, err := s.Get("job-1", KindReport, "statistics.json")
	if err != nil {
		t.Fatal(err)
	}
	var decoded types.Statistics
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report artifact is not valid JSON: %v", err)
	}
	if decoded.RequestsPerSecond != 12345.6 {
		t.Errorf("RequestsPerSecond = %v", decoded.RequestsPerSecond)
	}
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save("job-1", KindOutput, "../escape.txt", []byte("x")); err == nil {
		t.Error("filename with path separators must be rejected")
	}

	// The job ID comes straight from the submitted spec and is just as
	// untrusted as the filename.
	for _, id := range []string{"../../escape", "..", "a/b", ""} {
		if _, err := s.Save(id, KindOutput, "stdout.txt", []byte("x")); err == nil {
			t.Errorf("Save accepted job ID %q", id)
		}
		if _, err := s.Get(id, KindOutput, "stdout.txt"); err == nil {
			t.Errorf("Get accepted job ID %q", id)
		}
		if _, err := s.List(id); err == nil {
			t.Errorf("List accepted job ID %q", id)
		}
	}
}

func TestStore_List(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveOutput("job-1", "out\n", "err\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveStatistics("job-1", types.NewStatistics()); err != nil {
		t.Fatal(err)
	}

	infos, err := s.List("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(infos))
	}
	var kinds []string
	for _, info := range infos {
		kinds = append(kinds, string(info.Kind))
	}
	joined := strings.Join(kinds, ",")
	if !strings.Contains(joined, string(KindOutput)) || !strings.Contains(joined, string(KindReport)) {
		t.Errorf("unexpected kinds: %v", kinds)
	}

	// Unknown job lists empty, not an error.
	infos, err = s.List("missing")
	if err != nil || len(infos) != 0 {
		t.Errorf("List(missing) = %v, %v", infos, err)
	}
}
