// Package observer defines metrics hooks for supervised runs.
package observer

import (
	"context"

	"fuzsandbox/internal/sandbox/result"
)

// Observer records run lifecycle events.
type Observer interface {
	ObserveSpawn(ctx context.Context, attempts int, err error)
	ObserveRun(ctx context.Context, res result.RunResult)
	ObserveCleanup(ctx context.Context, err error)
}

// Noop is a default observer that does nothing.
type Noop struct{}

func (Noop) ObserveSpawn(ctx context.Context, attempts int, err error) {}

func (Noop) ObserveRun(ctx context.Context, res result.RunResult) {}

func (Noop) ObserveCleanup(ctx context.Context, err error) {}
