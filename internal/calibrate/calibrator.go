// Package calibrate measures unloaded target latency before the load
// phase starts.
package calibrate

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/perfharness/loaddriver/internal/config"
	"github.com/perfharness/loaddriver/internal/types"
)

// Config holds calibration settings.
type Config struct {
	// FirstRequestTimeout bounds the single first-request probe.
	FirstRequestTimeout time.Duration

	// ProbeTimeout bounds each no-load probe.
	ProbeTimeout time.Duration

	// ProbeCount is the maximum number of no-load probes.
	ProbeCount int
}

// DefaultConfig returns the default calibration configuration.
func DefaultConfig() Config {
	return Config{
		FirstRequestTimeout: config.DefaultFirstRequestTimeout,
		ProbeTimeout:        config.DefaultProbeTimeout,
		ProbeCount:          config.DefaultProbeCount,
	}
}

// Result carries the two calibration latencies in milliseconds.
// types.Sentinel marks a latency that could not be measured.
type Result struct {
	FirstRequestLatency float64
	NoLoadLatency       float64
}

// Calibrator issues sequential single-shot requests against the target.
// Calibration failures are never fatal: a probe that times out or cannot
// connect only leaves its latency unmeasured.
type Calibrator struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient returns the outbound client used for calibration probes.
// Certificate verification is relaxed for self-signed test endpoints and
// connection reuse is capped at one connection per host. The client is
// safe for concurrent use across jobs.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			MaxConnsPerHost: 1,
		},
	}
}

// NewCalibrator creates a calibrator. A nil client gets a fresh one from
// NewHTTPClient; a nil logger discards output.
func NewCalibrator(cfg Config, client *http.Client, logger *slog.Logger) *Calibrator {
	if cfg.FirstRequestTimeout <= 0 {
		cfg.FirstRequestTimeout = config.DefaultFirstRequestTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = config.DefaultProbeTimeout
	}
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = config.DefaultProbeCount
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Calibrator{cfg: cfg, client: client, logger: logger}
}

// Run executes both calibration phases. Phase 1 sends one bounded
// request and records its elapsed time as the first-request latency.
// Phase 2 sends up to ProbeCount further requests, each bounded by
// ProbeTimeout, keeping the latest successful sample as the no-load
// latency; earlier samples are treated as warm-up. The first failed
// probe aborts the remaining ones.
func (c *Calibrator) Run(ctx context.Context, job *types.JobSpec) Result {
	res := Result{
		FirstRequestLatency: types.Sentinel,
		NoLoadLatency:       types.Sentinel,
	}

	elapsed, err := c.probe(ctx, job, c.cfg.FirstRequestTimeout)
	if err != nil {
		c.logProbeFailure(job, "first request", err)
	} else {
		res.FirstRequestLatency = elapsed
		c.logger.Info("first request measured", "job_id", job.ID, "latency_ms", elapsed)
	}

	for i := 0; i < c.cfg.ProbeCount; i++ {
		elapsed, err := c.probe(ctx, job, c.cfg.ProbeTimeout)
		if err != nil {
			c.logProbeFailure(job, "no-load probe", err)
			break
		}
		res.NoLoadLatency = elapsed
	}

	if res.NoLoadLatency != types.Sentinel {
		c.logger.Info("no-load latency measured", "job_id", job.ID, "latency_ms", res.NoLoadLatency)
	}
	return res
}

// probe issues one request and returns its elapsed time in milliseconds.
// The response body is drained so the measurement covers the full
// exchange.
func (c *Calibrator) probe(ctx context.Context, job *types.JobSpec, timeout time.Duration) (float64, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := job.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(probeCtx, method, job.TargetURL(), nil)
	if err != nil {
		return 0, err
	}
	for name, value := range job.Headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return float64(time.Since(start)) / float64(time.Millisecond), nil
}

func (c *Calibrator) logProbeFailure(job *types.JobSpec, phase string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("calibration probe timed out", "job_id", job.ID, "phase", phase)
		return
	}
	c.logger.Warn("calibration probe failed", "job_id", job.ID, "phase", phase, "error", err)
}
