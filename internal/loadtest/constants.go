package loadtest

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DrainPollInterval    = 100 * time.Millisecond
	PercentageMultiplier = 100
	outputFilePermission = 0o600
	directoryPermission  = 0o750
)
