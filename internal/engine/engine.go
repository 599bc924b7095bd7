// Package engine executes load-test jobs end to end: command
// construction, calibration, the load-generator run, report parsing,
// and metric persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/perfharness/loaddriver/internal/calibrate"
	"github.com/perfharness/loaddriver/internal/command"
	"github.com/perfharness/loaddriver/internal/events"
	"github.com/perfharness/loaddriver/internal/otelmetrics"
	"github.com/perfharness/loaddriver/internal/sysmon"
	"github.com/perfharness/loaddriver/internal/types"
)

// ProcessRunner owns the generator subprocess for one job.
type ProcessRunner interface {
	Start(ctx context.Context, inv *command.Invocation) error
	Wait(ctx context.Context) error
	Stop()
	Dispose()
	Output() string
	ErrorOutput() string
	ExitCode() int
	PID() int
}

// Calibrator measures unloaded latency before the load phase.
type Calibrator interface {
	Run(ctx context.Context, job *types.JobSpec) calibrate.Result
}

// ReportParser decodes generator output into statistics.
type ReportParser interface {
	Parse(text string) *types.Statistics
}

// MetricsWriter persists a completed statistics record.
type MetricsWriter interface {
	WriteJob(ctx context.Context, job *types.JobSpec, stats *types.Statistics, longRunning bool) (int, error)
	Table() string
}

// ArtifactStore captures per-job files for post-hoc inspection.
type ArtifactStore interface {
	SaveSpec(job *types.JobSpec) error
	SaveOutput(jobID, stdout, stderr string) error
	SaveStatistics(jobID string, stats *types.Statistics) error
}

// Options wires the engine's collaborators. Builder, NewRunner, Parser
// and Writer are required; the rest are optional.
type Options struct {
	Builder    *command.Builder
	Calibrator Calibrator
	NewRunner  func() ProcessRunner
	Parser     ReportParser
	Writer     MetricsWriter
	Sampler    *sysmon.Sampler
	Artifacts  ArtifactStore
	Events     *events.EventLogger
	Metrics    *otelmetrics.Metrics
	Logger     *slog.Logger
}

// Engine runs one job at a time through its full lifecycle. A single
// Engine may run many jobs sequentially; the per-job process runner is
// never shared across jobs.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New creates an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Builder == nil || opts.NewRunner == nil || opts.Parser == nil || opts.Writer == nil {
		return nil, errors.New("engine requires builder, runner factory, parser and writer")
	}
	if opts.Events == nil {
		opts.Events = events.NoopEventLogger()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Engine{opts: opts, logger: opts.Logger}, nil
}

// Run executes one job and returns its statistics record. Transient
// failures - calibration timeouts, parse mismatches, a generator that
// crashed after producing partial output - degrade to sentinel fields
// rather than errors. Run fails only when the generator cannot be
// spawned, the context is cancelled, or the metrics writer exhausts its
// retries; in the latter case some of the job's dimensions may already
// be persisted.
func (e *Engine) Run(ctx context.Context, job *types.JobSpec, longRunning bool) (*types.Statistics, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	start := time.Now()

	state := types.StateNotStarted
	e.transition(&state, types.StateStarting)

	if e.opts.Artifacts != nil {
		if err := e.opts.Artifacts.SaveSpec(job); err != nil {
			e.logger.Warn("save job spec artifact", "job_id", job.ID, "error", err)
		}
	}

	inv, err := e.opts.Builder.Build(job)
	if err != nil {
		e.transition(&state, types.StateFailed)
		return nil, fmt.Errorf("build command: %w", err)
	}

	cal := calibrate.Result{
		FirstRequestLatency: types.Sentinel,
		NoLoadLatency:       types.Sentinel,
	}
	if !job.SkipCalibration && e.opts.Calibrator != nil {
		cal = e.opts.Calibrator.Run(ctx, job)
		e.opts.Events.LogCalibration(cal.FirstRequestLatency, cal.NoLoadLatency)
		e.recordCalibration(ctx, cal)
	}

	e.transition(&state, types.StateRunning)

	runner := e.opts.NewRunner()
	defer runner.Dispose()

	if err := runner.Start(ctx, inv); err != nil {
		e.transition(&state, types.StateFailed)
		return nil, fmt.Errorf("spawn generator: %w", err)
	}

	if e.opts.Sampler != nil {
		e.opts.Sampler.Start(ctx, runner.PID())
		defer e.opts.Sampler.Stop()
	}

	waitErr := runner.Wait(ctx)
	if ctx.Err() != nil {
		runner.Stop()
		e.transition(&state, types.StateDeleted)
		return nil, fmt.Errorf("job stopped: %w", ctx.Err())
	}
	if waitErr != nil {
		// A crashed or killed generator is not fatal: whatever output
		// it produced is still parsed, and a silent one yields an
		// all-sentinel record.
		e.logger.Warn("generator failed", "job_id", job.ID, "error", waitErr)
	}

	output := runner.Output()
	e.opts.Events.LogGeneratorExit(runner.ExitCode(), len(output), len(runner.ErrorOutput()))

	stats := e.opts.Parser.Parse(output)
	e.fillMetadata(stats, job)
	stats.FirstRequestLatency = cal.FirstRequestLatency
	stats.NoLoadLatency = cal.NoLoadLatency
	if e.opts.Sampler != nil {
		e.opts.Sampler.FoldInto(stats)
	}

	measured, total := measuredDimensions(stats)
	e.opts.Events.LogParseOutcome(measured, total)
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordParseFailures(ctx, int64(total-measured))
	}

	if e.opts.Artifacts != nil {
		if err := e.opts.Artifacts.SaveOutput(job.ID, output, runner.ErrorOutput()); err != nil {
			e.logger.Warn("save output artifact", "job_id", job.ID, "error", err)
		}
		if err := e.opts.Artifacts.SaveStatistics(job.ID, stats); err != nil {
			e.logger.Warn("save statistics artifact", "job_id", job.ID, "error", err)
		}
	}

	rows, err := e.opts.Writer.WriteJob(ctx, job, stats, longRunning)
	if err != nil {
		e.transition(&state, types.StateFailed)
		e.recordDuration(ctx, job, start, false)
		return nil, fmt.Errorf("persist metrics: %w", err)
	}
	e.opts.Events.LogRowsWritten(e.opts.Writer.Table(), rows)
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordRowsWritten(ctx, e.opts.Writer.Table(), int64(rows))
	}

	e.transition(&state, types.StateCompleted)
	e.recordDuration(ctx, job, start, true)
	return stats, nil
}

// transition moves the job to a new state, logging the change. An
// invalid transition indicates an engine bug and is logged loudly but
// not acted on.
func (e *Engine) transition(state *types.ClientState, to types.ClientState) {
	if !types.CanTransition(*state, to) {
		e.logger.Error("invalid state transition", "from", *state, "to", to)
		return
	}
	e.opts.Events.LogStateChange(*state, to)
	*state = to
}

// fillMetadata copies job descriptors onto the statistics record.
func (e *Engine) fillMetadata(stats *types.Statistics, job *types.JobSpec) {
	stats.Scenario = job.Scenario
	stats.Hardware = job.Hardware
	stats.OperatingSystem = job.OperatingSystem
	stats.WebHost = job.WebHost
	stats.Method = job.Method
	if len(job.Headers) > 0 {
		stats.Headers = make(map[string]string, len(job.Headers))
		for name, value := range job.Headers {
			stats.Headers[name] = value
		}
	}

	if u, err := url.Parse(job.URL); err == nil {
		stats.Scheme = u.Scheme
		stats.Path = u.Path
	}
}

func (e *Engine) recordCalibration(ctx context.Context, cal calibrate.Result) {
	if e.opts.Metrics == nil {
		return
	}
	if cal.FirstRequestLatency != types.Sentinel {
		e.opts.Metrics.RecordCalibration(ctx, "first_request", cal.FirstRequestLatency)
	}
	if cal.NoLoadLatency != types.Sentinel {
		e.opts.Metrics.RecordCalibration(ctx, "no_load", cal.NoLoadLatency)
	}
}

func (e *Engine) recordDuration(ctx context.Context, job *types.JobSpec, start time.Time, completed bool) {
	if e.opts.Metrics == nil {
		return
	}
	e.opts.Metrics.RecordJobDuration(ctx, job.Scenario, time.Since(start).Seconds(), completed)
}

func measuredDimensions(stats *types.Statistics) (measured, total int) {
	dims := stats.Dimensions()
	for _, dim := range dims {
		if dim.Value != types.Sentinel {
			measured++
		}
	}
	return measured, len(dims)
}
