// Package procrun owns the load-generator subprocess for the duration
// of a job: it spawns the process, drains its output streams, and
// detects termination.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/perfharness/loaddriver/internal/command"
	"github.com/perfharness/loaddriver/internal/config"
)

// State is the runner lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateSpawned  State = "spawned"
	StateDraining State = "draining"
	StateExited   State = "exited"
)

// Config holds runner settings.
type Config struct {
	// DrainGrace bounds how long the output pipes may stay open after
	// the process exits (a generator that leaked its pipe to a child).
	// Streams normally reach EOF well before this.
	DrainGrace time.Duration
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{DrainGrace: config.DefaultDrainGrace}
}

// streamBuffer accumulates one output stream. Appends are serialized
// per buffer; each stream owns a distinct buffer so no cross-stream
// synchronization is needed.
type streamBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *streamBuffer) appendLine(line string) {
	b.mu.Lock()
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	b.mu.Unlock()
}

func (b *streamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// lineWriter splits a stream into lines as it arrives, appending every
// non-empty line to its accumulator and mirroring it to the log. Write
// calls come from a single copying goroutine per stream, so the partial
// line needs no locking of its own.
type lineWriter struct {
	name    string
	buf     *streamBuffer
	logger  *slog.Logger
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush emits a trailing line the stream ended without terminating.
func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.emit(string(w.partial))
		w.partial = nil
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	w.buf.appendLine(line)
	w.logger.Debug("generator output", "stream", w.name, "line", line)
}

// Runner drives one load-generator process. A Runner instance belongs
// to a single job and must not be reused.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	exitErr  error
	exitCode int

	output    streamBuffer
	errOutput streamBuffer
	outWriter *lineWriter
	errWriter *lineWriter

	exited chan struct{}

	disposeOnce sync.Once
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = config.DefaultDrainGrace
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		state:    StateIdle,
		exitCode: -1,
		exited:   make(chan struct{}),
	}
	r.outWriter = &lineWriter{name: "stdout", buf: &r.output, logger: logger}
	r.errWriter = &lineWriter{name: "stderr", buf: &r.errOutput, logger: logger}
	return r
}

// Start spawns the generator with both output streams wired to
// line-splitting writers. Every non-empty line lands in its stream's
// accumulator and is mirrored to the log. Ordering is preserved within
// a stream but not between streams.
func (r *Runner) Start(ctx context.Context, inv *command.Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return fmt.Errorf("runner already started (state %s)", r.state)
	}

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Stdout = r.outWriter
	cmd.Stderr = r.errWriter
	// Bounds how long Wait blocks on a pipe the generator leaked to a
	// child that outlives it.
	cmd.WaitDelay = r.cfg.DrainGrace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", inv.Path, err)
	}

	r.cmd = cmd
	r.state = StateSpawned
	r.logger.Info("generator started", "command", inv.String(), "pid", cmd.Process.Pid)

	go r.watchExit(cmd)

	r.state = StateDraining
	return nil
}

// watchExit reaps the process. Wait returns only once both streams are
// fully copied (or the drain grace force-closed a leaked pipe), so the
// buffers are complete before the runner is marked exited.
func (r *Runner) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()

	r.outWriter.flush()
	r.errWriter.flush()

	r.mu.Lock()
	if cmd.ProcessState != nil {
		r.exitCode = cmd.ProcessState.ExitCode()
	}
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrWaitDelay):
		// The process itself succeeded; only a leaked pipe held the
		// streams open past the grace.
		r.logger.Warn("stream still open after process exit")
	case errors.As(err, new(*exec.ExitError)):
		r.exitErr = fmt.Errorf("generator exited with code %d", r.exitCode)
	default:
		r.exitErr = err
	}
	r.state = StateExited
	r.mu.Unlock()

	r.logger.Info("generator exited", "exit_code", r.ExitCode())
	close(r.exited)
}

// Wait blocks until the generator has exited and both stream buffers
// are complete, or the context is done. On success the accumulated
// output is safe to hand to the report parser.
func (r *Runner) Wait(ctx context.Context) error {
	select {
	case <-r.exited:
		return r.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop kills the generator if it is still running. It is idempotent and
// safe to call on an already-exited process.
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("kill generator", "error", err)
	}
}

// Dispose releases the process handle. Safe to call multiple times; the
// release happens exactly once.
func (r *Runner) Dispose() {
	r.disposeOnce.Do(func() {
		r.Stop()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cmd = nil
	})
}

// Output returns the accumulated standard output text.
func (r *Runner) Output() string { return r.output.String() }

// ErrorOutput returns the accumulated standard error text.
func (r *Runner) ErrorOutput() string { return r.errOutput.String() }

// ExitCode returns the generator's exit code, or -1 before exit.
func (r *Runner) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

// ExitErr returns the recorded exit error, if any.
func (r *Runner) ExitErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitErr
}

// CurrentState returns the runner lifecycle state.
func (r *Runner) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PID returns the generator's process id, or 0 before spawn.
func (r *Runner) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}
