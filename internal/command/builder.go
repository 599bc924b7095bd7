// Package command builds the load-generator invocation for a job.
package command

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/perfharness/loaddriver/internal/types"
)

// Config holds the builder settings.
type Config struct {
	// Tool is the load-generator binary. Default "wrk".
	Tool string

	// ScriptsDir is where job script attachments are copied before the
	// generator starts. Default "scripts".
	ScriptsDir string
}

// DefaultConfig returns the default builder configuration.
func DefaultConfig() Config {
	return Config{
		Tool:       "wrk",
		ScriptsDir: "scripts",
	}
}

// Invocation is a fully assembled generator command line.
type Invocation struct {
	Path string
	Args []string
}

// String renders the invocation for logging, quoting arguments that
// contain spaces.
func (inv *Invocation) String() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Path)
	for _, a := range inv.Args {
		if strings.ContainsAny(a, " \t") {
			parts = append(parts, strconv.Quote(a))
		} else {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// Builder assembles generator invocations from job specifications.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a builder. A nil logger discards output.
func NewBuilder(cfg Config, logger *slog.Logger) *Builder {
	if cfg.Tool == "" {
		cfg.Tool = "wrk"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build turns a job specification into an invocation. Besides copying
// script attachments into the scripts directory (and deleting their
// temporary sources) it has no side effects, and re-running it for the
// same job is safe: copies overwrite, deletes tolerate absence.
func (b *Builder) Build(job *types.JobSpec) (*Invocation, error) {
	args := []string{
		"-c", strconv.Itoa(job.Connections),
		"-t", strconv.Itoa(job.Threads),
		"-d", fmt.Sprintf("%ds", job.Duration),
		"--timeout", fmt.Sprintf("%ds", job.Timeout),
		"--latency",
	}

	for _, name := range sortedHeaderNames(job.Headers) {
		args = append(args, "-H", fmt.Sprintf("%s: %s", name, job.Headers[name]))
	}

	if rate := job.Property("rate"); rate != "" {
		args = append(args, "-R", rate)
	}

	for _, att := range job.Attachments {
		dest, err := b.copyAttachment(att)
		if err != nil {
			return nil, err
		}
		args = append(args, "-s", dest)
	}

	args = append(args, job.TargetURL())

	if name := job.Property("ScriptName"); name != "" {
		script := filepath.Join(b.cfg.ScriptsDir, name+".lua")
		args = append(args, "-s", script)
		if job.PipelineDepth > 0 {
			args = append(args, "--", strconv.Itoa(job.PipelineDepth))
		}
	}

	inv := &Invocation{Path: b.cfg.Tool, Args: args}
	b.logger.Debug("command built", "job_id", job.ID, "command", inv.String())
	return inv, nil
}

// copyAttachment places the attachment into the scripts directory under
// its logical filename, overwriting any previous copy, then removes the
// temporary source.
func (b *Builder) copyAttachment(att types.Attachment) (string, error) {
	if err := os.MkdirAll(b.cfg.ScriptsDir, 0755); err != nil {
		return "", fmt.Errorf("create scripts dir: %w", err)
	}

	dest := filepath.Join(b.cfg.ScriptsDir, att.Filename)
	src, err := os.Open(att.TempPath)
	if err != nil {
		return "", fmt.Errorf("open attachment %s: %w", att.Filename, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create script %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("copy script %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close script %s: %w", dest, err)
	}

	if err := os.Remove(att.TempPath); err != nil && !os.IsNotExist(err) {
		// The copy succeeded; a leftover temp file is not fatal.
		b.logger.Warn("remove attachment source failed", "path", att.TempPath, "error", err)
	}
	return dest, nil
}

func sortedHeaderNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
