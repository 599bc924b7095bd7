// Package events provides structured logging for key events in a job's
// lifecycle.
package events

import (
	"io"
	"log/slog"
	"os"

	"github.com/perfharness/loaddriver/internal/types"
)

// EventLogger emits JSON lifecycle events tagged with the job and
// session they belong to.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger writing JSON to stdout with
// base attributes job_id and session.
func NewEventLogger(jobID, session string) *EventLogger {
	return NewEventLoggerWithWriter(jobID, session, os.Stdout)
}

// NewEventLoggerWithWriter creates an EventLogger with a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(jobID, session string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"job_id", jobID,
		"session", session,
	)
	return &EventLogger{logger: logger}
}

// Logger exposes the underlying slog logger for component injection.
func (el *EventLogger) Logger() *slog.Logger {
	return el.logger
}

// LogStateChange logs a job state transition.
// event: "state_change"
func (el *EventLogger) LogStateChange(from, to types.ClientState) {
	el.logger.Info("state_change",
		"from", string(from),
		"to", string(to),
	)
}

// LogCalibration logs the calibration outcome. Unmeasured latencies
// carry the sentinel value.
// event: "calibration"
func (el *EventLogger) LogCalibration(firstRequestMs, noLoadMs float64) {
	el.logger.Info("calibration",
		"first_request_ms", firstRequestMs,
		"no_load_ms", noLoadMs,
	)
}

// LogGeneratorExit logs the load generator's termination.
// event: "generator_exit"
func (el *EventLogger) LogGeneratorExit(exitCode int, outputBytes, errorBytes int) {
	el.logger.Info("generator_exit",
		"exit_code", exitCode,
		"output_bytes", outputBytes,
		"error_bytes", errorBytes,
	)
}

// LogParseOutcome logs how much of the report could be decoded.
// event: "report_parsed"
func (el *EventLogger) LogParseOutcome(measured, total int) {
	el.logger.Info("report_parsed",
		"measured_dimensions", measured,
		"total_dimensions", total,
	)
}

// LogRowsWritten logs a completed persistence pass.
// event: "rows_written"
func (el *EventLogger) LogRowsWritten(table string, rows int) {
	el.logger.Info("rows_written",
		"table", table,
		"rows", rows,
	)
}

// NoopEventLogger returns an event logger that discards all events.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{logger: slog.New(handler)}
}
