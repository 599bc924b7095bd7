// Package types defines the shared data model for load-test jobs:
// the job specification, its lifecycle states, and the statistics
// record produced when a job completes.
package types

// Attachment is a script file shipped with a job. The source lives at a
// temporary path until the command builder copies it into the scripts
// directory under its logical filename.
type Attachment struct {
	// Filename is the logical name of the script (e.g. "pipeline.lua").
	Filename string `json:"filename"`

	// TempPath is where the uploaded source currently sits. It is
	// deleted after the copy into the scripts directory.
	TempPath string `json:"temp_path"`
}

// JobSpec describes a single load-test job. It is immutable once
// execution starts.
type JobSpec struct {
	// ID identifies the job. Minted by the engine if empty.
	ID string `json:"id"`

	// URL is the target endpoint, scheme included.
	URL string `json:"url"`

	// Query is an optional query string appended to URL verbatim.
	Query string `json:"query,omitempty"`

	// Method is the HTTP method driven against the target.
	Method string `json:"method"`

	// Headers are sent with every generated request, one -H token each.
	Headers map[string]string `json:"headers,omitempty"`

	Connections int `json:"connections"`
	Threads     int `json:"threads"`

	// Duration is the load phase length in seconds.
	Duration int `json:"duration"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `json:"timeout"`

	// PipelineDepth, when greater than zero, is passed to the pipeline
	// script as its argument.
	PipelineDepth int `json:"pipeline_depth,omitempty"`

	// Attachments are copied into the scripts directory before the
	// generator starts.
	Attachments []Attachment `json:"attachments,omitempty"`

	// ClientProperties carries tool-specific options. Recognized keys:
	// "rate" (request rate limit) and "ScriptName" (script to invoke).
	ClientProperties map[string]string `json:"client_properties,omitempty"`

	// SkipCalibration disables the pre-load latency probes.
	SkipCalibration bool `json:"skip_calibration,omitempty"`

	// Descriptive metadata copied onto the resulting Statistics record.
	Scenario        string `json:"scenario,omitempty"`
	Hardware        string `json:"hardware,omitempty"`
	OperatingSystem string `json:"operating_system,omitempty"`
	WebHost         string `json:"webhost,omitempty"`
}

// Property returns the named client property, or "" if unset.
func (j *JobSpec) Property(name string) string {
	if j.ClientProperties == nil {
		return ""
	}
	return j.ClientProperties[name]
}

// TargetURL returns the full target including the query string.
func (j *JobSpec) TargetURL() string {
	return j.URL + j.Query
}
