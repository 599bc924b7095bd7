package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/perfharness/loaddriver/internal/artifacts"
	"github.com/perfharness/loaddriver/internal/calibrate"
	"github.com/perfharness/loaddriver/internal/command"
	"github.com/perfharness/loaddriver/internal/config"
	"github.com/perfharness/loaddriver/internal/engine"
	"github.com/perfharness/loaddriver/internal/events"
	"github.com/perfharness/loaddriver/internal/metricstore"
	"github.com/perfharness/loaddriver/internal/otelmetrics"
	"github.com/perfharness/loaddriver/internal/procrun"
	"github.com/perfharness/loaddriver/internal/report"
	"github.com/perfharness/loaddriver/internal/sysmon"
	"github.com/perfharness/loaddriver/internal/types"
)

func main() {
	jobPath := flag.String("job", "", "Path to the job specification JSON file")
	longRunning := flag.Bool("long-running", false, "Suppress short-lived diagnostic dimensions")
	storeDSN := flag.String("store-dsn", "", "Postgres DSN of the metric store")
	table := flag.String("table", "measurements", "Metric table name")
	session := flag.String("session", "", "Session label for persisted rows (default: random)")
	description := flag.String("description", "", "Description label for persisted rows")
	tool := flag.String("tool", "wrk", "Load generator binary")
	scriptsDir := flag.String("scripts-dir", "scripts", "Directory for job script attachments")
	artifactsDir := flag.String("artifacts-dir", "", "Directory for job artifacts (empty = disabled)")
	sampleInterval := flag.Duration("sample-interval", config.DefaultSampleInterval, "Resource sample interval")
	counters := flag.String("counters", strings.Join(sysmon.Counters(), ","), "Comma-separated counter catalog")
	otelExporter := flag.String("otel-exporter", "none", "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP endpoint for otlp exporters")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -job is required")
		os.Exit(1)
	}
	if *storeDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: -store-dsn is required")
		os.Exit(1)
	}

	job, err := loadJob(*jobPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load job: %v\n", err)
		os.Exit(1)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if *session == "" {
		*session = uuid.NewString()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping job...")
		cancel()
	}()

	db, err := metricstore.Open(*storeDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open metric store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	metrics, err := otelmetrics.New(ctx, &otelmetrics.Config{
		Enabled:      *otelExporter != "none",
		ServiceName:  "loaddriver",
		ExporterType: otelmetrics.ExporterType(*otelExporter),
		OTLPEndpoint: *otlpEndpoint,
		OTLPInsecure: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up metrics: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metrics.Shutdown(shutdownCtx)
	}()

	writerCfg := metricstore.DefaultConfig(*table)
	writerCfg.Session = *session
	writerCfg.Description = *description
	writerCfg.CounterCatalog = splitCounters(*counters)
	writerCfg.RetryHook = func() { metrics.RecordWriteRetry(ctx) }
	writer, err := metricstore.NewWriter(db, writerCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create metrics writer: %v\n", err)
		os.Exit(1)
	}

	opts := engine.Options{
		Builder:    command.NewBuilder(command.Config{Tool: *tool, ScriptsDir: *scriptsDir}, logger),
		Calibrator: calibrate.NewCalibrator(calibrate.DefaultConfig(), nil, logger),
		NewRunner: func() engine.ProcessRunner {
			return procrun.NewRunner(procrun.DefaultConfig(), logger)
		},
		Parser:  report.NewParser(logger),
		Writer:  writer,
		Sampler: sysmon.NewSampler(*sampleInterval, logger),
		Events:  events.NewEventLogger(job.ID, *session),
		Metrics: metrics,
		Logger:  logger,
	}

	if *artifactsDir != "" {
		store, err := artifacts.NewStore(*artifactsDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create artifact store: %v\n", err)
			os.Exit(1)
		}
		opts.Artifacts = store
	}

	eng, err := engine.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("Target: %s\n", job.TargetURL())
	fmt.Printf("Store: %s (table %s)\n", metricstore.RedactDSN(*storeDSN), *table)

	stats, err := eng.Run(ctx, job, *longRunning)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Job failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(stats)
}

func loadJob(path string) (*types.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var job types.JobSpec
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if job.URL == "" {
		return nil, fmt.Errorf("job has no target URL")
	}
	return &job, nil
}

func splitCounters(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printSummary(stats *types.Statistics) {
	fmt.Println("Job completed")
	print := func(name string, value float64) {
		if value == types.Sentinel {
			fmt.Printf("  %-24s (not measured)\n", name)
			return
		}
		fmt.Printf("  %-24s %.2f\n", name, value)
	}
	print("Requests/sec:", stats.RequestsPerSecond)
	print("Latency avg (ms):", stats.LatencyAverage)
	print("Latency p50 (ms):", stats.Latency50Percentile)
	print("Latency p99 (ms):", stats.Latency99Percentile)
	print("Socket errors:", stats.SocketErrors)
	print("Bad responses:", stats.BadResponses)
	print("Requests:", stats.TotalRequests)
	print("Duration (s):", stats.Duration)
}
