package sandbox

import (
	"context"
	"strings"

	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/contextkey"
	"fuzsandbox/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const suffixLength = 9

func newSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
}

// Start launches params under a freshly suffixed accounting group. A start
// that fails because the child died during setup is retried with a new
// suffix; any other failure is returned at once.
func (s *Supervisor) Start(ctx context.Context, params spec.RunParameters) (*RunHandle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxSpawnAttempts; attempt++ {
		suffix := s.opts.Suffix()
		group := params.CgroupName + "/" + suffix
		attemptCtx := context.WithValue(ctx, contextkey.RunID, suffix)
		attemptCtx = context.WithValue(attemptCtx, contextkey.Cgroup, group)
		attemptParams := params.WithCgroupName(group)

		proc, err := s.engine.Start(attemptCtx, attemptParams)
		if err == nil && proc.PID <= 0 {
			err = appErr.Newf(appErr.SandboxSpawnFailed, "engine returned invalid pid %d", proc.PID)
			logger.Error(attemptCtx, "sandbox started without a valid pid", zap.Int("pid", proc.PID))
			s.discardAttempt(attemptCtx, group)
			s.opts.Observer.ObserveSpawn(attemptCtx, attempt, err)
			return nil, err
		}
		if err == nil {
			s.opts.Observer.ObserveSpawn(attemptCtx, attempt, nil)
			logger.Info(attemptCtx, "sandbox started", zap.Int("pid", proc.PID), zap.Int("attempt", attempt))
			return s.launch(attemptCtx, proc, attemptParams), nil
		}

		s.discardAttempt(attemptCtx, group)
		lastErr = err
		if !engine.IsTransient(err) {
			s.opts.Observer.ObserveSpawn(attemptCtx, attempt, err)
			return nil, appErr.Wrapf(err, appErr.SandboxSpawnFailed, "start sandbox failed")
		}
		logger.Warn(attemptCtx, "sandbox child exited during setup, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.MaxSpawnAttempts),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.opts.Observer.ObserveSpawn(attemptCtx, attempt, ctxErr)
			return nil, appErr.Wrapf(ctxErr, appErr.SandboxSpawnFailed, "start sandbox canceled")
		}
	}
	s.opts.Observer.ObserveSpawn(ctx, s.opts.MaxSpawnAttempts, lastErr)
	return nil, appErr.Wrapf(lastErr, appErr.SandboxSpawnFailed, "start sandbox failed after %d attempts", s.opts.MaxSpawnAttempts)
}

// discardAttempt removes whatever groups a failed attempt left behind.
func (s *Supervisor) discardAttempt(ctx context.Context, group string) {
	for _, sub := range s.opts.Subsystems {
		if err := s.engine.RemoveGroup(sub, group); err != nil {
			logger.Warn(ctx, "remove group of failed attempt failed", zap.String("subsystem", string(sub)), zap.Error(err))
		}
	}
}
