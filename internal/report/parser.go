// Package report decodes the load generator's free-text report into a
// typed statistics record.
//
// The decoder is defensive by construction: every extraction rule is
// applied independently, numeric parse failures degrade to sentinel or
// zero defaults with a logged warning, and malformed or partial tool
// output never produces an error.
package report

import (
	"io"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/perfharness/loaddriver/internal/types"
)

// Parser converts generator report text into Statistics.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger discards output.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Parser{logger: logger}
}

// rule is one extraction entry: a labeled pattern, an extractor applied
// to its submatches, and an optional default applied when the pattern
// is absent. Extractors are total: they always leave the field with a
// value and never fail.
type rule struct {
	label   string
	pattern *regexp.Regexp
	found   func(p *Parser, match []string, s *types.Statistics)
	absent  func(s *types.Statistics)
}

var (
	reRequestsPerSec = regexp.MustCompile(`(?m)^Requests/sec:\s*([\d.]+)`)
	reLatencyAvg     = regexp.MustCompile(`(?m)^\s*Latency\s+([\d.]+)([a-zµ]+)`)
	reLatency50      = regexp.MustCompile(`(?m)^\s*50(?:\.000)?%\s+([\d.]+)([a-zµ]+)`)
	reLatency75      = regexp.MustCompile(`(?m)^\s*75(?:\.000)?%\s+([\d.]+)([a-zµ]+)`)
	reLatency90      = regexp.MustCompile(`(?m)^\s*90(?:\.000)?%\s+([\d.]+)([a-zµ]+)`)
	reLatency99      = regexp.MustCompile(`(?m)^\s*99(?:\.000)?%\s+([\d.]+)([a-zµ]+)`)
	reLatency100     = regexp.MustCompile(`(?m)^\s*100(?:\.000)?%\s+([\d.]+)([a-zµ]+)`)
	reSocketErrors   = regexp.MustCompile(`Socket errors: connect (\d+), read (\d+), write (\d+), timeout (\d+)`)
	reBadResponses   = regexp.MustCompile(`Non-2xx or 3xx responses: (\d+)`)
	reRequestsIn     = regexp.MustCompile(`(\d+) requests in ([\d.]+)([a-z]+)`)
)

// latencyRule builds a rule that normalizes a "<value><unit>" latency
// capture to milliseconds and stores it through set. Absence leaves the
// field unset.
func latencyRule(label string, pattern *regexp.Regexp, set func(s *types.Statistics, v float64)) rule {
	return rule{
		label:   label,
		pattern: pattern,
		found: func(p *Parser, match []string, s *types.Statistics) {
			set(s, p.latencyMs(label, match[1], match[2]))
		},
	}
}

var rules = []rule{
	{
		label:   "requests per second",
		pattern: reRequestsPerSec,
		found: func(p *Parser, match []string, s *types.Statistics) {
			s.RequestsPerSecond = p.number("requests per second", match[1], types.Sentinel)
		},
	},
	latencyRule("latency average", reLatencyAvg, func(s *types.Statistics, v float64) { s.LatencyAverage = v }),
	latencyRule("latency 50th", reLatency50, func(s *types.Statistics, v float64) { s.Latency50Percentile = v }),
	latencyRule("latency 75th", reLatency75, func(s *types.Statistics, v float64) { s.Latency75Percentile = v }),
	latencyRule("latency 90th", reLatency90, func(s *types.Statistics, v float64) { s.Latency90Percentile = v }),
	latencyRule("latency 99th", reLatency99, func(s *types.Statistics, v float64) { s.Latency99Percentile = v }),
	latencyRule("latency 100th", reLatency100, func(s *types.Statistics, v float64) { s.Latency100Percentile = v }),
	{
		// The tool only prints this line when errors occurred, so an
		// absent line means zero errors, not an unmeasured dimension.
		label:   "socket errors",
		pattern: reSocketErrors,
		found: func(p *Parser, match []string, s *types.Statistics) {
			var total float64
			for _, sub := range match[1:5] {
				total += p.number("socket errors", sub, 0)
			}
			s.SocketErrors = total
		},
		absent: func(s *types.Statistics) { s.SocketErrors = 0 },
	},
	{
		// Same asymmetry as socket errors: absent means zero.
		label:   "bad responses",
		pattern: reBadResponses,
		found: func(p *Parser, match []string, s *types.Statistics) {
			s.BadResponses = p.number("bad responses", match[1], 0)
		},
		absent: func(s *types.Statistics) { s.BadResponses = 0 },
	},
	{
		label:   "requests and duration",
		pattern: reRequestsIn,
		found: func(p *Parser, match []string, s *types.Statistics) {
			s.TotalRequests = p.number("total requests", match[1], types.Sentinel)
			s.Duration = p.durationSeconds(match[2], match[3])
		},
	},
}

// Parse applies every extraction rule to the report text and returns
// the resulting record. Text that matches nothing yields an
// all-sentinel record (with the zero defaults for socket errors and
// bad responses); Parse never fails.
func (p *Parser) Parse(text string) *types.Statistics {
	s := types.NewStatistics()
	for _, r := range rules {
		match := r.pattern.FindStringSubmatch(text)
		if match == nil {
			if r.absent != nil {
				r.absent(s)
			}
			continue
		}
		r.found(p, match, s)
	}
	return s
}

// number parses a numeric capture, degrading to def with a warning.
func (p *Parser) number(label, raw string, def float64) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Warn("report value unparsable", "label", label, "value", raw)
		return def
	}
	return v
}

// latencyMs normalizes a latency capture to milliseconds. An unknown
// unit yields the sentinel, never an error.
func (p *Parser) latencyMs(label, raw, unit string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Warn("report value unparsable", "label", label, "value", raw)
		return types.Sentinel
	}
	switch unit {
	case "s":
		return v * 1000
	case "ms":
		return v
	case "us", "µs":
		return v / 1000
	default:
		p.logger.Warn("unknown latency unit", "label", label, "unit", unit)
		return types.Sentinel
	}
}

// durationSeconds normalizes the report duration to seconds.
func (p *Parser) durationSeconds(raw, unit string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.logger.Warn("report duration unparsable", "value", raw)
		return types.Sentinel
	}
	switch unit {
	case "s":
		return v
	case "m":
		return v * 60
	case "h":
		return v * 3600
	default:
		p.logger.Warn("unknown duration unit", "unit", unit)
		return types.Sentinel
	}
}
