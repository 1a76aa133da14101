// Package result defines the terminal outcome of a supervised run.
package result

import "time"

// Status is the single verdict assigned to a finished run.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusTimeLimitExceeded
	StatusMemoryLimitExceeded
	StatusRuntimeError
	StatusCancelled
	StatusOutputLimitExceeded
)

var statusNames = map[Status]string{
	StatusUnknown:             "Unknown",
	StatusOK:                  "OK",
	StatusTimeLimitExceeded:   "TimeLimitExceeded",
	StatusMemoryLimitExceeded: "MemoryLimitExceeded",
	StatusRuntimeError:        "RuntimeError",
	StatusCancelled:           "Cancelled",
	StatusOutputLimitExceeded: "OutputLimitExceeded",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText lets the status appear by name in logs and encoded results.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Cause tells how the process left the kernel's process table.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseExited
	CauseSignaled
)

func (c Cause) String() string {
	switch c {
	case CauseExited:
		return "exited"
	case CauseSignaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// RunResult is produced exactly once per run.
type RunResult struct {
	Status Status
	// Time is the authoritative CPU time read from the accounting group.
	Time time.Duration
	// Memory is peak memory+swap minus page cache, in bytes.
	Memory int64
	// ExitCode is the exit status, or the signal number when Cause is CauseSignaled.
	ExitCode int
	Cause    Cause
	Cgroup   string
}
