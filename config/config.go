package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Default wall-clock cap for a whole job, Stage 1 through Stage 6.
const DefaultJobTimeout = 5 * time.Minute

// Default cap on how long Stage 2 (Sandbox) is allowed to run.
const DefaultSandboxTimeout = 2 * time.Minute

// How often the janitor sweeps the job table for stuck jobs.
const JanitorInterval = 60 * time.Second

// A non-terminal job older than JanitorEvictionMultiplier*JobTimeout is evicted.
const JanitorEvictionMultiplier = 2

// Somewhat arbitrary and conservative default for how many jobs the
// orchestrator will run at once before it starts queuing new ones.
const DefaultMaxConcurrentJobs = 50

// How often the scan protocol (Submit/Status/Cancel) is polled.
const ScanPollInterval = 2 * time.Second

// How often the synchronous-analyze protocol's async escape hatch is polled.
const AnalyzePollInterval = 5 * time.Second

// Default per-service circuit breaker tuning.
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 2
	DefaultOpenTimeoutMin   = 30 * time.Second
	DefaultOpenTimeoutMax   = 60 * time.Second
)

// Default minimum success rate FindPattern requires before serving a
// cached pattern, and the minimum number of recorded executions before a
// pattern's successRate is trusted at all (see DESIGN.md open question 3).
const (
	DefaultMinPatternSuccessRate = 0.80
	MinPatternSampleSize         = 5
)

// Maximum time a job's latest status can go without an update. No code in
// this module reads it.
const MaxTimeWithoutUpdate = 30 * time.Minute

// Maximum number of members the Dispatch Gate will fan an archive upload
// out into; beyond this it is rejected rather than silently truncated.
const MaxArchiveMembers = 200
