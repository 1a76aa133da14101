// Package engine describes the isolation engine the supervisor drives.
package engine

import (
	"context"

	"fuzsandbox/internal/sandbox/result"
	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
)

// Subsystem names a cgroup controller hierarchy.
type Subsystem string

const (
	SubsystemMemory  Subsystem = "memory"
	SubsystemCPUAcct Subsystem = "cpuacct"
	SubsystemPIDs    Subsystem = "pids"
)

// DefaultSubsystems are the hierarchies every run is placed in.
var DefaultSubsystems = []Subsystem{SubsystemMemory, SubsystemCPUAcct, SubsystemPIDs}

// Accounting files read by the supervisor.
const (
	PropertyCPUUsage   = "cpuacct.usage"
	PropertyMemswPeak  = "memory.memsw.max_usage_in_bytes"
	PropertyMemoryStat = "memory.stat"
	MemoryStatCacheKey = "cache"
)

// ErrChildStartFailed marks a start failure where the forked child died before
// reporting readiness. The condition is a setup race and worth retrying.
var ErrChildStartFailed = appErr.New(appErr.SandboxChildStartFailed)

// Process identifies a started sandbox. Context is opaque engine state that
// must be handed back to Wait.
type Process struct {
	PID     int
	Context any
}

// Exit is the one-shot exit notification.
type Exit struct {
	Cause result.Cause
	Code  int
}

// Launcher creates and reaps isolated processes.
type Launcher interface {
	// Start performs root change, mounts, namespaces, privilege drop,
	// group creation and exec for params.
	Start(ctx context.Context, params spec.RunParameters) (Process, error)
	// Wait blocks until the process terminates. It is called once per Process.
	Wait(ctx context.Context, proc Process) (Exit, error)
}

// Groups reads and removes accounting groups.
type Groups interface {
	ReadProperty(subsystem Subsystem, group, property string) (string, error)
	ReadKeyedProperty(subsystem Subsystem, group, file, key string) (string, error)
	RemoveGroup(subsystem Subsystem, group string) error
}

// Engine is the full contract consumed by the supervisor.
type Engine interface {
	Launcher
	Groups
}

type composite struct {
	Launcher
	Groups
}

// Compose joins a launcher and a group accessor into one Engine.
func Compose(l Launcher, g Groups) Engine {
	return composite{Launcher: l, Groups: g}
}

// IsTransient reports whether a Start error is the retryable child-start race.
func IsTransient(err error) bool {
	return appErr.IsTransient(err)
}
