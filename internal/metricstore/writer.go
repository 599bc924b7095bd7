// Package metricstore persists job statistics to a tabular store, one
// row per measured dimension, with a bounded retry policy per row.
package metricstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/lib/pq"

	"github.com/perfharness/loaddriver/internal/config"
	"github.com/perfharness/loaddriver/internal/types"
)

// Execer is the slice of database/sql the writer needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// diagnosticDimensions are suppressed for long-running jobs regardless
// of value.
var diagnosticDimensions = map[string]struct{}{
	types.DimStartupTime:   {},
	types.DimBuildTime:     {},
	types.DimPublishedSize: {},
	types.DimFirstRequest:  {},
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds writer settings.
type Config struct {
	// Table receives the metric rows. Created lazily if absent; an
	// existing table is never altered.
	Table string

	// Session and Description label every row.
	Session     string
	Description string

	// Attempts is the total number of tries per row (initial + retries).
	Attempts uint

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// CounterCatalog lists the extensible counter names admitted for
	// persistence. Counters outside the catalog are dropped.
	CounterCatalog []string

	// RetryHook, when set, is invoked once per retried write.
	RetryHook func()
}

// DefaultConfig returns the default writer configuration for a table.
func DefaultConfig(table string) Config {
	return Config{
		Table:    table,
		Attempts: config.DefaultWriteAttempts,
		Delay:    config.DefaultWriteDelay,
	}
}

// Writer emits one MetricRow per non-sentinel dimension of a job's
// statistics. Row writes are sequential; a row whose retries are
// exhausted aborts the remaining rows, and rows already written are not
// rolled back.
type Writer struct {
	cfg     Config
	db      Execer
	dialect goqu.DialectWrapper
	logger  *slog.Logger
	catalog map[string]struct{}
	nowFunc func() time.Time

	mu         sync.Mutex
	tableReady bool
}

// Table returns the destination table name.
func (w *Writer) Table() string {
	return w.cfg.Table
}

// Open connects to the store behind the given postgres DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metric store: %w", err)
	}
	return db, nil
}

// NewWriter creates a writer against db. A nil logger discards output.
func NewWriter(db Execer, cfg Config, logger *slog.Logger) (*Writer, error) {
	if cfg.Table == "" || !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = config.DefaultWriteAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = config.DefaultWriteDelay
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	catalog := make(map[string]struct{}, len(cfg.CounterCatalog))
	for _, name := range cfg.CounterCatalog {
		catalog[name] = struct{}{}
	}

	return &Writer{
		cfg:     cfg,
		db:      db,
		dialect: goqu.Dialect("postgres"),
		logger:  logger,
		catalog: catalog,
		nowFunc: time.Now,
	}, nil
}

// WriteJob persists the statistics for one job and returns the number
// of rows written. Each row write is independently retried up to the
// configured attempt bound with a fixed delay; on exhaustion the
// original error propagates and the remaining rows are not written.
func (w *Writer) WriteJob(ctx context.Context, job *types.JobSpec, stats *types.Statistics, longRunning bool) (int, error) {
	if err := w.ensureTable(ctx); err != nil {
		return 0, err
	}

	rows := w.Rows(job, stats, longRunning)
	for i, row := range rows {
		if err := w.writeRow(ctx, row); err != nil {
			return i, fmt.Errorf("write dimension %q: %w", row.Dimension, err)
		}
	}

	w.logger.Info("metrics written", "job_id", job.ID, "table", w.cfg.Table, "rows", len(rows))
	return len(rows), nil
}

// Rows converts a statistics record into the rows that would be
// persisted: one per non-sentinel dimension, diagnostic dimensions
// suppressed for long-running jobs, extensible counters gated by the
// catalog.
func (w *Writer) Rows(job *types.JobSpec, stats *types.Statistics, longRunning bool) []types.MetricRow {
	now := w.nowFunc()

	base := types.MetricRow{
		Timestamp:       now,
		Session:         w.cfg.Session,
		Description:     w.cfg.Description,
		Scenario:        stats.Scenario,
		Hardware:        stats.Hardware,
		OperatingSystem: stats.OperatingSystem,
		Scheme:          stats.Scheme,
		WebHost:         stats.WebHost,
		Threads:         job.Threads,
		Connections:     job.Connections,
		Duration:        job.Duration,
		Path:            stats.Path,
		Method:          stats.Method,
		Headers:         serializeHeaders(stats.Headers),
	}

	var rows []types.MetricRow
	emit := func(name string, value float64) {
		row := base
		row.Dimension = name
		row.Value = value
		rows = append(rows, row)
	}

	for _, dim := range stats.Dimensions() {
		if dim.Value == types.Sentinel {
			continue
		}
		if longRunning {
			if _, diagnostic := diagnosticDimensions[dim.Name]; diagnostic {
				continue
			}
		}
		emit(dim.Name, dim.Value)
	}

	names := make([]string, 0, len(stats.Other))
	for name := range stats.Other {
		if _, ok := w.catalog[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if value := stats.Other[name]; value != types.Sentinel {
			emit(name, value)
		}
	}

	return rows
}

func (w *Writer) writeRow(ctx context.Context, row types.MetricRow) error {
	query, args, err := w.dialect.Insert(w.cfg.Table).Prepared(true).Rows(goqu.Record{
		"timestamp":        row.Timestamp,
		"session":          row.Session,
		"description":      row.Description,
		"scenario":         row.Scenario,
		"hardware":         row.Hardware,
		"operating_system": row.OperatingSystem,
		"scheme":           row.Scheme,
		"webhost":          row.WebHost,
		"threads":          row.Threads,
		"connections":      row.Connections,
		"duration":         row.Duration,
		"path":             row.Path,
		"method":           row.Method,
		"headers":          row.Headers,
		"dimension":        row.Dimension,
		"value":            row.Value,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	return w.retry(ctx, func() error {
		_, err := w.db.ExecContext(ctx, query, args...)
		return err
	})
}

// ensureTable creates the metric table if it does not exist. The shape
// of an existing table is never touched.
func (w *Writer) ensureTable(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tableReady {
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	session TEXT,
	description TEXT,
	scenario TEXT,
	hardware TEXT,
	operating_system TEXT,
	scheme TEXT,
	webhost TEXT,
	threads INTEGER,
	connections INTEGER,
	duration INTEGER,
	path TEXT,
	method TEXT,
	headers TEXT,
	dimension TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL
)`, w.cfg.Table)

	err := w.retry(ctx, func() error {
		_, err := w.db.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", w.cfg.Table, err)
	}
	w.tableReady = true
	return nil
}

func (w *Writer) retry(ctx context.Context, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(w.cfg.Attempts),
		retry.Delay(w.cfg.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Warn("store write failed", "attempt", n+1, "error", err)
			if w.cfg.RetryHook != nil {
				w.cfg.RetryHook()
			}
		}),
	)
}

func serializeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return string(data)
}

// RedactDSN strips credentials from a DSN for logging.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
