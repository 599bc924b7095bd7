package config

import "time"

// Default configuration constants for calibration, process draining and
// metric persistence.
const (
	DefaultFirstRequestTimeout = 5 * time.Second
	DefaultProbeTimeout        = 2 * time.Second
	DefaultProbeCount          = 10

	DefaultDrainGrace = 100 * time.Millisecond

	DefaultWriteAttempts = 6 // 1 initial + 5 retries
	DefaultWriteDelay    = 5 * time.Second

	DefaultSampleInterval = 5 * time.Second
)
