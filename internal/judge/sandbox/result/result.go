// Package result defines sandbox execution results.
package result

import "time"

// TimeoutExitCode is reported for a process killed at its wall-clock deadline.
const TimeoutExitCode = 124

// Metrics are the counters read from a resource group at teardown.
type Metrics struct {
	CPUMs    int64 `json:"cpu"`
	MemoryKB int64 `json:"mem"`
}

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode int
	Metrics  Metrics
	TimedOut bool
	WallTime time.Duration
}
