package sandbox

import (
	"time"

	"fuzsandbox/internal/sandbox/cgroup"
	"fuzsandbox/internal/sandbox/engine"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// beginTeardown runs the synchronous part of teardown: the monitor stops
// billing and the shutdown hook is dropped. It reports false if teardown
// already happened.
func (h *RunHandle) beginTeardown() bool {
	h.stopMu.Lock()
	swapped := h.running.CompareAndSwap(true, false)
	h.stopMu.Unlock()
	if !swapped {
		return false
	}
	if h.mon != nil {
		h.mon.stop()
	}
	if h.deregister != nil {
		h.deregister()
	}
	return true
}

// releaseGroups removes the run's group from every subsystem and resolves
// the cleanup cell. It never touches the run result.
func (h *RunHandle) releaseGroups() {
	var g errgroup.Group
	for _, sub := range h.sup.opts.Subsystems {
		sub := sub
		g.Go(func() error {
			return h.removeWithRetry(sub)
		})
	}
	err := g.Wait()
	if err != nil {
		err = appErr.Wrapf(err, appErr.SandboxCleanupFailed, "release groups of %s failed", h.params.CgroupName)
		logger.Error(h.ctx, "release accounting groups failed", zap.Error(err))
	}
	h.sup.opts.Observer.ObserveCleanup(h.ctx, err)
	if resolveErr := h.cleanup.Resolve(struct{}{}, err); resolveErr != nil {
		logger.Error(h.ctx, "cleanup resolved twice", zap.Error(resolveErr))
	}
}

// removeWithRetry retries a group that still has members with exponential backoff.
func (h *RunHandle) removeWithRetry(sub engine.Subsystem) error {
	opts := h.sup.opts
	var err error
	for attempt := 0; ; attempt++ {
		err = h.sup.engine.RemoveGroup(sub, h.params.CgroupName)
		if err == nil {
			return nil
		}
		if !cgroup.IsBusy(err) || attempt >= opts.CleanupRetries {
			return err
		}
		delay := computeBackoff(attempt, opts.CleanupRetryBase, opts.CleanupRetryMax)
		logger.Warn(h.ctx, "group busy, retrying removal",
			zap.String("subsystem", string(sub)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		<-opts.Clock.After(delay)
	}
}

func computeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
