// Package sandbox supervises one isolated process per run: it starts the
// process, accounts for CPU and memory through control groups, enforces the
// time and memory limits, reports a single terminal status and releases the
// accounting groups exactly once.
package sandbox

import (
	"context"
	"time"

	"fuzsandbox/internal/config"
	"fuzsandbox/internal/sandbox/cgroup"
	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/internal/sandbox/hooks"
	"fuzsandbox/internal/sandbox/observer"
	"fuzsandbox/internal/sandbox/result"
	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// Options tunes a Supervisor. Zero fields take the configuration defaults.
// A negative CPUFloorRatio disables the wall-clock floor and a negative
// CleanupRetries disables cleanup retries.
type Options struct {
	MaxSampleInterval time.Duration
	CPUFloorRatio     float64
	MaxSpawnAttempts  int
	CleanupRetries    int
	CleanupRetryBase  time.Duration
	CleanupRetryMax   time.Duration
	Subsystems        []engine.Subsystem

	Clock    Clock
	Observer observer.Observer
	Hooks    *hooks.Registry
	Signaler Signaler
	// Suffix generates the per-attempt group suffix.
	Suffix func() string
}

// OptionsFromConfig maps supervisor settings onto Options.
func OptionsFromConfig(cfg config.SupervisorConfig) Options {
	return Options{
		MaxSampleInterval: cfg.MaxSampleInterval,
		CPUFloorRatio:     cfg.CPUFloorRatio,
		MaxSpawnAttempts:  cfg.MaxSpawnAttempts,
		CleanupRetries:    cfg.CleanupRetries,
		CleanupRetryBase:  cfg.CleanupRetryBase,
		CleanupRetryMax:   cfg.CleanupRetryMax,
		Subsystems:        append([]engine.Subsystem(nil), cfg.Subsystems...),
	}
}

func (o Options) withDefaults() Options {
	d := config.Default().Supervisor
	if o.MaxSampleInterval <= 0 {
		o.MaxSampleInterval = d.MaxSampleInterval
	}
	switch {
	case o.CPUFloorRatio == 0:
		o.CPUFloorRatio = d.CPUFloorRatio
	case o.CPUFloorRatio < 0:
		o.CPUFloorRatio = 0
	}
	if o.MaxSpawnAttempts <= 0 {
		o.MaxSpawnAttempts = d.MaxSpawnAttempts
	}
	switch {
	case o.CleanupRetries == 0:
		o.CleanupRetries = d.CleanupRetries
	case o.CleanupRetries < 0:
		o.CleanupRetries = 0
	}
	if o.CleanupRetryBase <= 0 {
		o.CleanupRetryBase = d.CleanupRetryBase
	}
	if o.CleanupRetryMax <= 0 {
		o.CleanupRetryMax = d.CleanupRetryMax
	}
	if len(o.Subsystems) == 0 {
		o.Subsystems = d.Subsystems
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	if o.Observer == nil {
		o.Observer = observer.Noop{}
	}
	if o.Hooks == nil {
		o.Hooks = hooks.Default()
	}
	if o.Signaler == nil {
		o.Signaler = KillSignaler{}
	}
	if o.Suffix == nil {
		o.Suffix = newSuffix
	}
	return o
}

// Supervisor starts and supervises sandboxed runs on one engine.
type Supervisor struct {
	engine engine.Engine
	opts   Options
}

// New creates a supervisor.
func New(eng engine.Engine, opts Options) (*Supervisor, error) {
	if eng == nil {
		return nil, appErr.ValidationError("engine", "required")
	}
	return &Supervisor{engine: eng, opts: opts.withDefaults()}, nil
}

// Bootstrap initialises logging, verifies the host's control groups and
// returns a supervisor that records metrics.
func Bootstrap(cfg *config.AppConfig, launcher engine.Launcher) (*Supervisor, error) {
	if cfg == nil {
		return nil, appErr.ValidationError("config", "required")
	}
	if launcher == nil {
		return nil, appErr.ValidationError("launcher", "required")
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, appErr.Wrapf(err, appErr.ConfigLoadFailed, "init logger failed")
	}
	h, err := cgroup.Discover(cfg.Cgroup.ControllersPath, cfg.Cgroup.MountsPath, cfg.Cgroup.Required)
	if err != nil {
		return nil, err
	}
	opts := OptionsFromConfig(cfg.Supervisor)
	opts.Observer = observer.NewMetrics()
	return New(engine.Compose(launcher, h), opts)
}

// Run starts params and waits for the result. Cancelling ctx stops the run;
// the result then carries StatusCancelled. If the stop signal cannot be
// delivered, Run returns that error instead of waiting on a process that may
// never exit. Group release continues in the background after Run returns.
func (s *Supervisor) Run(ctx context.Context, params spec.RunParameters) (result.RunResult, error) {
	h, err := s.Start(ctx, params)
	if err != nil {
		return result.RunResult{}, err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		if err := h.Stop(); err != nil {
			logger.Error(h.ctx, "stop on context cancel failed", zap.Error(err))
			return result.RunResult{}, err
		}
	}
	return h.Result(context.WithoutCancel(ctx))
}
