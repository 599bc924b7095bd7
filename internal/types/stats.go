package types

import "time"

// Sentinel marks a dimension that was not measured. Sentinel values are
// never persisted.
const Sentinel = -1

// Dimension display names, as persisted in the metric store.
const (
	DimRequestsPerSecond    = "Requests/sec"
	DimLatencyAverage       = "Latency Average (ms)"
	DimLatency50Percentile  = "Latency 50th (ms)"
	DimLatency75Percentile  = "Latency 75th (ms)"
	DimLatency90Percentile  = "Latency 90th (ms)"
	DimLatency99Percentile  = "Latency 99th (ms)"
	DimLatency100Percentile = "Latency 100th (ms)"
	DimSocketErrors         = "Socket Errors"
	DimBadResponses         = "Bad Responses"
	DimTotalRequests        = "Requests"
	DimDuration             = "Duration (s)"
	DimStartupTime          = "Startup Time (ms)"
	DimBuildTime            = "Build Time (ms)"
	DimPublishedSize        = "Published Size (KB)"
	DimFirstRequest         = "First Request (ms)"
	DimNoLoadLatency        = "No-Load Latency (ms)"
)

// Statistics is the canonical metrics record for a completed job.
// Numeric dimensions default to Sentinel; the extensible Other map holds
// named counters that are only persisted when a counter catalog admits
// them. Created once per job after parsing and immutable thereafter.
type Statistics struct {
	// Descriptive metadata, copied from the job.
	Scenario        string            `json:"scenario,omitempty"`
	Hardware        string            `json:"hardware,omitempty"`
	OperatingSystem string            `json:"operating_system,omitempty"`
	Scheme          string            `json:"scheme,omitempty"`
	WebHost         string            `json:"webhost,omitempty"`
	Path            string            `json:"path,omitempty"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`

	RequestsPerSecond    float64 `json:"requests_per_second"`
	LatencyAverage       float64 `json:"latency_average_ms"`
	Latency50Percentile  float64 `json:"latency_p50_ms"`
	Latency75Percentile  float64 `json:"latency_p75_ms"`
	Latency90Percentile  float64 `json:"latency_p90_ms"`
	Latency99Percentile  float64 `json:"latency_p99_ms"`
	Latency100Percentile float64 `json:"latency_p100_ms"`
	SocketErrors         float64 `json:"socket_errors"`
	BadResponses         float64 `json:"bad_responses"`
	TotalRequests        float64 `json:"total_requests"`

	// Duration is the actual load duration in seconds as reported by
	// the generator, not the requested one.
	Duration float64 `json:"duration_s"`

	// Diagnostic dimensions, suppressed for long-running jobs.
	StartupTime         float64 `json:"startup_time_ms"`
	BuildTime           float64 `json:"build_time_ms"`
	PublishedSize       float64 `json:"published_size_kb"`
	FirstRequestLatency float64 `json:"first_request_ms"`

	NoLoadLatency float64 `json:"no_load_latency_ms"`

	// Other holds extensible named counters (e.g. resource samples).
	Other map[string]float64 `json:"other,omitempty"`
}

// NewStatistics returns a record with every dimension set to Sentinel.
func NewStatistics() *Statistics {
	return &Statistics{
		RequestsPerSecond:    Sentinel,
		LatencyAverage:       Sentinel,
		Latency50Percentile:  Sentinel,
		Latency75Percentile:  Sentinel,
		Latency90Percentile:  Sentinel,
		Latency99Percentile:  Sentinel,
		Latency100Percentile: Sentinel,
		SocketErrors:         Sentinel,
		BadResponses:         Sentinel,
		TotalRequests:        Sentinel,
		Duration:             Sentinel,
		StartupTime:          Sentinel,
		BuildTime:            Sentinel,
		PublishedSize:        Sentinel,
		FirstRequestLatency:  Sentinel,
		NoLoadLatency:        Sentinel,
		Other:                make(map[string]float64),
	}
}

// DimensionValue pairs a dimension display name with its value.
type DimensionValue struct {
	Name  string
	Value float64
}

// Dimensions returns the fixed dimensions in persistence order. The
// extensible Other counters are not included; the metrics writer gates
// those against its counter catalog.
func (s *Statistics) Dimensions() []DimensionValue {
	return []DimensionValue{
		{DimRequestsPerSecond, s.RequestsPerSecond},
		{DimLatencyAverage, s.LatencyAverage},
		{DimLatency50Percentile, s.Latency50Percentile},
		{DimLatency75Percentile, s.Latency75Percentile},
		{DimLatency90Percentile, s.Latency90Percentile},
		{DimLatency99Percentile, s.Latency99Percentile},
		{DimLatency100Percentile, s.Latency100Percentile},
		{DimSocketErrors, s.SocketErrors},
		{DimBadResponses, s.BadResponses},
		{DimTotalRequests, s.TotalRequests},
		{DimDuration, s.Duration},
		{DimStartupTime, s.StartupTime},
		{DimBuildTime, s.BuildTime},
		{DimPublishedSize, s.PublishedSize},
		{DimFirstRequest, s.FirstRequestLatency},
		{DimNoLoadLatency, s.NoLoadLatency},
	}
}

// MetricRow is one persisted tuple: the job metadata plus a single
// dimension name and value. Every non-sentinel dimension in a Statistics
// record yields exactly one row; sentinel dimensions yield none.
type MetricRow struct {
	Timestamp       time.Time
	Session         string
	Description     string
	Scenario        string
	Hardware        string
	OperatingSystem string
	Scheme          string
	WebHost         string
	Threads         int
	Connections     int
	Duration        int
	Path            string
	Method          string
	Headers         string
	Dimension       string
	Value           float64
}
