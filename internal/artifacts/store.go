// Package artifacts keeps per-job files - the raw generator report and
// the parsed statistics - for post-hoc inspection.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/perfharness/loaddriver/internal/types"
)

// Kind classifies a stored artifact.
type Kind string

const (
	// KindOutput is raw generator stdout/stderr text.
	KindOutput Kind = "output"

	// KindReport is the parsed statistics record as JSON.
	KindReport Kind = "report"

	// KindSpec is a snapshot of the job specification.
	KindSpec Kind = "spec"
)

// Info describes one stored artifact.
type Info struct {
	JobID     string `json:"job_id"`
	Kind      Kind   `json:"kind"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Store persists job artifacts under {baseDir}/{jobID}/{kind}/.
// Safe for concurrent use.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// NewStore creates a store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact base directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// validPathElement rejects names that would resolve outside their
// parent directory. Job IDs and filenames both come from callers and
// end up as path components.
func validPathElement(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name
}

// Save stores one artifact file for a job.
func (s *Store) Save(jobID string, kind Kind, filename string, data []byte) (*Info, error) {
	if !validPathElement(jobID) {
		return nil, fmt.Errorf("invalid job ID %q", jobID)
	}
	if !validPathElement(filename) {
		return nil, fmt.Errorf("invalid artifact filename %q", filename)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, jobID, string(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	return &Info{
		JobID:     jobID,
		Kind:      kind,
		Filename:  filename,
		Path:      path,
		SizeBytes: int64(len(data)),
	}, nil
}

// SaveOutput stores the raw generator streams for a job.
func (s *Store) SaveOutput(jobID, stdout, stderr string) error {
	if _, err := s.Save(jobID, KindOutput, "stdout.txt", []byte(stdout)); err != nil {
		return err
	}
	if stderr == "" {
		return nil
	}
	_, err := s.Save(jobID, KindOutput, "stderr.txt", []byte(stderr))
	return err
}

// SaveStatistics stores the parsed statistics record as JSON.
func (s *Store) SaveStatistics(jobID string, stats *types.Statistics) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	_, err = s.Save(jobID, KindReport, "statistics.json", data)
	return err
}

// SaveSpec stores a snapshot of the job specification.
func (s *Store) SaveSpec(job *types.JobSpec) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job spec: %w", err)
	}
	_, err = s.Save(job.ID, KindSpec, "job.json", data)
	return err
}

// Get reads one artifact back.
func (s *Store) Get(jobID string, kind Kind, filename string) ([]byte, error) {
	if !validPathElement(jobID) || !validPathElement(filename) {
		return nil, fmt.Errorf("invalid artifact path %s/%s/%s", jobID, kind, filename)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.baseDir, jobID, string(kind), filename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact not found: %s/%s/%s", jobID, kind, filename)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// List returns every artifact stored for a job.
func (s *Store) List(jobID string) ([]Info, error) {
	if !validPathElement(jobID) {
		return nil, fmt.Errorf("invalid job ID %q", jobID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	jobDir := filepath.Join(s.baseDir, jobID)
	if _, err := os.Stat(jobDir); os.IsNotExist(err) {
		return []Info{}, nil
	}

	var infos []Info
	err := filepath.Walk(jobDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(jobDir, path)
		if err != nil {
			return err
		}
		kind := Kind(filepath.Dir(rel))
		infos = append(infos, Info{
			JobID:     jobID,
			Kind:      kind,
			Filename:  fi.Name(),
			Path:      path,
			SizeBytes: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return infos, nil
}
