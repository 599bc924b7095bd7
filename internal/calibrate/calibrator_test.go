package calibrate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perfharness/loaddriver/internal/types"
)

func testJob(url string) *types.JobSpec {
	return &types.JobSpec{ID: "job-1", URL: url, Method: http.MethodGet}
}

func TestRun_MeasuresBothLatencies(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewCalibrator(Config{ProbeCount: 3}, server.Client(), nil)
	res := c.Run(context.Background(), testJob(server.URL))

	if res.FirstRequestLatency == types.Sentinel {
		t.Error("first-request latency should be measured")
	}
	if res.FirstRequestLatency < 0 {
		t.Errorf("first-request latency negative: %v", res.FirstRequestLatency)
	}
	if res.NoLoadLatency == types.Sentinel {
		t.Error("no-load latency should be measured")
	}

	// One first request plus three probes.
	if got := hits.Load(); got != 4 {
		t.Errorf("expected 4 requests, got %d", got)
	}
}

func TestRun_FirstRequestTimeoutIsNotFatal(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewCalibrator(Config{
		FirstRequestTimeout: 20 * time.Millisecond,
		ProbeTimeout:        time.Second,
		ProbeCount:          2,
	}, server.Client(), nil)

	res := c.Run(context.Background(), testJob(server.URL))

	if res.FirstRequestLatency != types.Sentinel {
		t.Errorf("timed-out first request should stay unmeasured, got %v", res.FirstRequestLatency)
	}
	if res.NoLoadLatency == types.Sentinel {
		t.Error("no-load probes should still run after a first-request timeout")
	}
}

func TestRun_FirstProbeTimeoutAbortsRemaining(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First request succeeds, every probe stalls.
		if hits.Add(1) > 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewCalibrator(Config{
		FirstRequestTimeout: time.Second,
		ProbeTimeout:        20 * time.Millisecond,
		ProbeCount:          10,
	}, server.Client(), nil)

	res := c.Run(context.Background(), testJob(server.URL))

	if res.NoLoadLatency != types.Sentinel {
		t.Errorf("no-load latency should stay unmeasured, got %v", res.NoLoadLatency)
	}
	// First request plus the single probe that timed out.
	if got := hits.Load(); got != 2 {
		t.Errorf("expected probing to stop after first timeout, got %d requests", got)
	}
}

func TestRun_ConnectionFailureLeavesSentinels(t *testing.T) {
	// Nothing listens here; both phases fail without aborting.
	c := NewCalibrator(Config{
		FirstRequestTimeout: 100 * time.Millisecond,
		ProbeTimeout:        100 * time.Millisecond,
		ProbeCount:          3,
	}, nil, nil)

	res := c.Run(context.Background(), testJob("http://127.0.0.1:1/"))

	if res.FirstRequestLatency != types.Sentinel || res.NoLoadLatency != types.Sentinel {
		t.Errorf("unreachable target should leave both latencies unmeasured, got %+v", res)
	}
}

func TestRun_KeepsLastSuccessfulProbe(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Delay shrinks per request so the last probe is the fastest.
		n := hits.Add(1)
		time.Sleep(time.Duration(60-n*10) * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewCalibrator(Config{ProbeCount: 4}, server.Client(), nil)
	res := c.Run(context.Background(), testJob(server.URL))

	if res.NoLoadLatency == types.Sentinel {
		t.Fatal("no-load latency should be measured")
	}
	if res.NoLoadLatency >= res.FirstRequestLatency {
		t.Errorf("expected last (fastest) sample kept: no-load %v >= first %v",
			res.NoLoadLatency, res.FirstRequestLatency)
	}
}
