package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/internal/sandbox/result"
	"fuzsandbox/internal/sandbox/spec"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/logger"
	"fuzsandbox/pkg/utils/oneshot"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Signaler delivers the forced-termination signal to a process.
type Signaler interface {
	Kill(pid int) error
}

// KillSignaler sends SIGKILL.
type KillSignaler struct{}

func (KillSignaler) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// RunHandle is the completion handle of one started run.
type RunHandle struct {
	ctx     context.Context
	sup     *Supervisor
	proc    engine.Process
	params  spec.RunParameters
	started time.Time

	mon        *monitor
	deregister func()

	running   atomic.Bool
	cancelled atomic.Bool
	killed    atomic.Bool
	stopMu    sync.Mutex
	// exited is set once Wait has reaped the process; the pid may be reused after that.
	exited bool

	result  *oneshot.Cell[result.RunResult]
	cleanup *oneshot.Cell[struct{}]
}

func (s *Supervisor) launch(ctx context.Context, proc engine.Process, params spec.RunParameters) *RunHandle {
	h := &RunHandle{
		ctx:     context.WithoutCancel(ctx),
		sup:     s,
		proc:    proc,
		params:  params,
		started: s.opts.Clock.Now(),
		result:  oneshot.New[result.RunResult](),
		cleanup: oneshot.New[struct{}](),
	}
	h.running.Store(true)
	h.deregister = s.opts.Hooks.Register(func() {
		logger.Warn(h.ctx, "host shutting down, stopping sandbox", zap.Int("pid", h.proc.PID))
		if err := h.Stop(); err != nil {
			logger.Error(h.ctx, "stop on shutdown failed", zap.Error(err))
		}
	})
	if limit, ok := params.HasTimeLimit(); ok {
		h.mon = newMonitor(h, limit)
		h.mon.start(h.started)
	}
	go h.supervise()
	return h
}

// PID returns the process id assigned by the engine.
func (h *RunHandle) PID() int {
	return h.proc.PID
}

// Cgroup returns the effective group name, including the attempt suffix.
func (h *RunHandle) Cgroup() string {
	return h.params.CgroupName
}

// Params returns the frozen parameters the run was started with.
func (h *RunHandle) Params() spec.RunParameters {
	return h.params
}

// Result waits for the terminal result.
func (h *RunHandle) Result(ctx context.Context) (result.RunResult, error) {
	return h.result.Wait(ctx)
}

// Cleanup waits until the accounting groups are released.
func (h *RunHandle) Cleanup(ctx context.Context) error {
	_, err := h.cleanup.Wait(ctx)
	return err
}

// Done is closed when the result is available.
func (h *RunHandle) Done() <-chan struct{} {
	return h.result.Done()
}

// CleanupDone is closed when group release has finished.
func (h *RunHandle) CleanupDone() <-chan struct{} {
	return h.cleanup.Done()
}

// Stop cancels the run. The result is still produced by the exit path and
// carries StatusCancelled unless the time limit was hit first. Calling Stop
// more than once, or after the process has exited, is harmless and does not
// mark the run cancelled.
func (h *RunHandle) Stop() error {
	return h.kill(true)
}

// Cancelled reports whether Stop took effect before the process exited.
func (h *RunHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// markExited records that the process has been reaped.
func (h *RunHandle) markExited() {
	h.stopMu.Lock()
	h.exited = true
	h.stopMu.Unlock()
}

// kill is the single forced-termination path shared by Stop, the monitor
// and the shutdown hook. Nothing is signaled once the process is reaped.
func (h *RunHandle) kill(cancel bool) error {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if !h.running.Load() || h.exited {
		return nil
	}
	if cancel {
		h.cancelled.Store(true)
	}
	if h.killed.Load() {
		return nil
	}
	if h.proc.PID <= 0 {
		return appErr.Newf(appErr.SandboxSignalFailed, "invalid pid %d", h.proc.PID)
	}
	err := h.sup.opts.Signaler.Kill(h.proc.PID)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return appErr.Wrapf(err, appErr.SandboxSignalFailed, "kill pid %d failed", h.proc.PID)
	}
	h.killed.Store(true)
	return nil
}
