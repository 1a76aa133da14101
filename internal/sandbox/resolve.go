package sandbox

import (
	"strconv"
	"time"

	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/internal/sandbox/result"
	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

// verdictInput carries everything the status decision depends on.
type verdictInput struct {
	timedOut    bool
	cpu         time.Duration
	timeLimit   spec.TimeBound
	cancelled   bool
	memory      int64
	memoryLimit spec.ByteBound
	cause       result.Cause
}

// decideStatus applies the fixed priority: time limit, cancellation, memory
// limit, abnormal termination, normal exit.
func decideStatus(in verdictInput) result.Status {
	switch {
	case in.timedOut || in.timeLimit.Exceeds(in.cpu):
		return result.StatusTimeLimitExceeded
	case in.cancelled:
		return result.StatusCancelled
	case in.memoryLimit.Exceeds(in.memory):
		return result.StatusMemoryLimitExceeded
	case in.cause == result.CauseSignaled:
		return result.StatusRuntimeError
	case in.cause == result.CauseExited:
		return result.StatusOK
	default:
		return result.StatusUnknown
	}
}

// supervise waits for the process and resolves the run. It is the only
// goroutine that tears the handle down.
func (h *RunHandle) supervise() {
	exit, waitErr := h.sup.engine.Wait(h.ctx, h.proc)
	if waitErr == nil {
		h.markExited()
	} else {
		if err := h.kill(false); err != nil {
			logger.Error(h.ctx, "kill after wait failure failed", zap.Error(err))
		}
	}
	if !h.beginTeardown() {
		return
	}

	var (
		res result.RunResult
		err error
	)
	if waitErr != nil {
		err = appErr.Wrapf(waitErr, appErr.SandboxWaitFailed, "wait for pid %d failed", h.proc.PID)
		logger.Error(h.ctx, "sandbox wait failed", zap.Error(waitErr))
	} else {
		res, err = h.resolve(exit)
	}
	if resolveErr := h.result.Resolve(res, err); resolveErr != nil {
		logger.Error(h.ctx, "run result resolved twice", zap.Error(resolveErr))
	}
	go h.releaseGroups()
}

// resolve reads the final statistics and picks the status.
func (h *RunHandle) resolve(exit engine.Exit) (result.RunResult, error) {
	res := result.RunResult{
		ExitCode: exit.Code,
		Cause:    exit.Cause,
		Cgroup:   h.params.CgroupName,
	}
	cpu, err := h.readCPU()
	if err != nil {
		logger.Error(h.ctx, "read final cpu usage failed", zap.Error(err))
		return res, err
	}
	memory, err := h.readMemory()
	if err != nil {
		logger.Error(h.ctx, "read final memory usage failed", zap.Error(err))
		return res, err
	}

	in := verdictInput{
		cpu:         cpu,
		timeLimit:   h.params.TimeLimit,
		cancelled:   h.cancelled.Load(),
		memory:      memory,
		memoryLimit: h.params.MemoryLimit,
		cause:       exit.Cause,
	}
	var counted time.Duration
	if h.mon != nil {
		counted, _, in.timedOut = h.mon.state()
	}
	res.Status = decideStatus(in)
	res.Time = cpu
	res.Memory = memory

	h.sup.opts.Observer.ObserveRun(h.ctx, res)
	logger.Info(h.ctx, "sandbox finished",
		zap.String("status", res.Status.String()),
		zap.Duration("cpu", res.Time),
		zap.Duration("counted", counted),
		zap.Duration("wall", h.sup.opts.Clock.Now().Sub(h.started)),
		zap.Int64("memory", res.Memory),
		zap.String("cause", res.Cause.String()),
		zap.Int("exit_code", res.ExitCode),
	)
	return res, nil
}

func (h *RunHandle) readCPU() (time.Duration, error) {
	v, err := h.readUint(engine.SubsystemCPUAcct, engine.PropertyCPUUsage)
	if err != nil {
		return 0, err
	}
	return time.Duration(v), nil
}

// readMemory returns peak memory+swap usage minus page cache, clamped at zero.
func (h *RunHandle) readMemory() (int64, error) {
	peak, err := h.readUint(engine.SubsystemMemory, engine.PropertyMemswPeak)
	if err != nil {
		return 0, err
	}
	raw, err := h.sup.engine.ReadKeyedProperty(engine.SubsystemMemory, h.params.CgroupName, engine.PropertyMemoryStat, engine.MemoryStatCacheKey)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "read memory cache failed")
	}
	cache, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "parse memory cache failed")
	}
	memory := int64(peak) - cache
	if memory < 0 {
		memory = 0
	}
	return memory, nil
}

func (h *RunHandle) readUint(subsystem engine.Subsystem, property string) (uint64, error) {
	raw, err := h.sup.engine.ReadProperty(subsystem, h.params.CgroupName, property)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "read %s failed", property)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.SandboxStatsUnavailable, "parse %s failed", property)
	}
	return v, nil
}
