package sandbox

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/internal/sandbox/hooks"
	"fuzsandbox/internal/sandbox/result"
	"fuzsandbox/internal/sandbox/spec"
)

// fakeClock only moves when Advance is called. Ticks are handed over on an
// unbuffered channel, so Advance blocks until the monitor takes the tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{
		c:      make(chan time.Time),
		stopCh: make(chan struct{}),
		period: d,
		next:   c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves time forward and reports whether any live ticker took a tick.
func (c *fakeClock) Advance(d time.Duration) bool {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due []*fakeTicker
	for _, t := range c.tickers {
		if t.isStopped() || now.Before(t.next) {
			continue
		}
		for !now.Before(t.next) {
			t.next = t.next.Add(t.period)
		}
		due = append(due, t)
	}
	c.mu.Unlock()

	delivered := false
	for _, t := range due {
		select {
		case t.c <- now:
			delivered = true
		case <-t.stopCh:
		}
	}
	return delivered
}

func (c *fakeClock) liveTickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	c      chan time.Time
	stopCh chan struct{}
	once   sync.Once
	period time.Duration
	next   time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() { t.once.Do(func() { close(t.stopCh) }) }

func (t *fakeTicker) isStopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

type fakeProc struct {
	pid      int
	group    string
	started  time.Time
	exit     chan engine.Exit
	once     sync.Once
	ended    time.Time
	done     bool
	lastRead time.Time
	hasRead  bool
}

// fakeEngine keeps processes and accounting groups in memory. CPU usage is a
// function of fake time since start and freezes when the process ends.
type fakeEngine struct {
	mu    sync.Mutex
	clock *fakeClock

	startErrs []error
	starts    []string
	procs     map[int]*fakeProc
	nextPID   int
	// reportPID, when set, replaces the pid handed back from Start.
	reportPID func(pid int) int

	cpu         func(elapsed time.Duration) uint64
	cpuErr      error
	finalCPUErr error
	memPeak     uint64
	memCache    int64
	memErr      error
	waitErr     error

	removeErrs map[engine.Subsystem][]error
	removed    map[engine.Subsystem][]string

	// cpuReads receives one value per sample of a running process.
	cpuReads chan struct{}
}

func newFakeEngine(clock *fakeClock) *fakeEngine {
	return &fakeEngine{
		clock:      clock,
		procs:      make(map[int]*fakeProc),
		nextPID:    1000,
		cpu:        func(time.Duration) uint64 { return 0 },
		removeErrs: make(map[engine.Subsystem][]error),
		removed:    make(map[engine.Subsystem][]string),
		cpuReads:   make(chan struct{}, 1024),
	}
}

func (e *fakeEngine) Start(ctx context.Context, params spec.RunParameters) (engine.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, params.CgroupName)
	if len(e.startErrs) > 0 {
		err := e.startErrs[0]
		e.startErrs = e.startErrs[1:]
		if err != nil {
			return engine.Process{}, err
		}
	}
	e.nextPID++
	p := &fakeProc{
		pid:     e.nextPID,
		group:   params.CgroupName,
		started: e.clock.Now(),
		exit:    make(chan engine.Exit, 1),
	}
	e.procs[p.pid] = p
	pid := p.pid
	if e.reportPID != nil {
		pid = e.reportPID(pid)
	}
	return engine.Process{PID: pid, Context: p}, nil
}

func (e *fakeEngine) Wait(ctx context.Context, proc engine.Process) (engine.Exit, error) {
	p := proc.Context.(*fakeProc)
	e.mu.Lock()
	waitErr := e.waitErr
	e.mu.Unlock()
	if waitErr != nil {
		return engine.Exit{}, waitErr
	}
	select {
	case ex := <-p.exit:
		return ex, nil
	case <-ctx.Done():
		return engine.Exit{}, ctx.Err()
	}
}

// finish ends a process. Only the first call has an effect. A killed process
// stops accruing CPU at the last sample taken before the kill.
func (e *fakeEngine) finish(pid int, ex engine.Exit) {
	e.mu.Lock()
	p, ok := e.procs[pid]
	e.mu.Unlock()
	if !ok {
		return
	}
	p.once.Do(func() {
		now := e.clock.Now()
		e.mu.Lock()
		p.ended = now
		if ex.Cause == result.CauseSignaled && p.hasRead {
			p.ended = p.lastRead
		}
		p.done = true
		e.mu.Unlock()
		p.exit <- ex
	})
}

func (e *fakeEngine) procByGroup(group string) *fakeProc {
	for _, p := range e.procs {
		if p.group == group {
			return p
		}
	}
	return nil
}

func (e *fakeEngine) ReadProperty(subsystem engine.Subsystem, group, property string) (string, error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.procByGroup(group)
	if p == nil {
		return "", errors.New("no such group")
	}
	switch property {
	case engine.PropertyCPUUsage:
		end := now
		if p.done {
			end = p.ended
		} else {
			p.lastRead = now
			p.hasRead = true
			select {
			case e.cpuReads <- struct{}{}:
			default:
			}
		}
		if p.done && e.finalCPUErr != nil {
			return "", e.finalCPUErr
		}
		if !p.done && e.cpuErr != nil {
			return "", e.cpuErr
		}
		return strconv.FormatUint(e.cpu(end.Sub(p.started)), 10), nil
	case engine.PropertyMemswPeak:
		if e.memErr != nil {
			return "", e.memErr
		}
		return strconv.FormatUint(e.memPeak, 10), nil
	}
	return "", errors.New("unknown property " + property)
}

func (e *fakeEngine) ReadKeyedProperty(subsystem engine.Subsystem, group, file, key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if file != engine.PropertyMemoryStat || key != engine.MemoryStatCacheKey {
		return "", errors.New("unknown statistic")
	}
	return strconv.FormatInt(e.memCache, 10), nil
}

func (e *fakeEngine) RemoveGroup(subsystem engine.Subsystem, group string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed[subsystem] = append(e.removed[subsystem], group)
	if errs := e.removeErrs[subsystem]; len(errs) > 0 {
		err := errs[0]
		e.removeErrs[subsystem] = errs[1:]
		return err
	}
	return nil
}

func (e *fakeEngine) startedGroups() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.starts...)
}

func (e *fakeEngine) removedGroups(sub engine.Subsystem) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.removed[sub]...)
}

// fakeSignaler ends the fake process as if SIGKILL arrived.
type fakeSignaler struct {
	mu    sync.Mutex
	eng   *fakeEngine
	kills int
	err   error
}

func (s *fakeSignaler) Kill(pid int) error {
	s.mu.Lock()
	s.kills++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.eng.finish(pid, engine.Exit{Cause: result.CauseSignaled, Code: 9})
	return nil
}

func (s *fakeSignaler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kills
}

type recordingObserver struct {
	mu       sync.Mutex
	spawns   []int
	spawnErr []error
	runs     []result.RunResult
	cleanups []error
}

func (o *recordingObserver) ObserveSpawn(ctx context.Context, attempts int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spawns = append(o.spawns, attempts)
	o.spawnErr = append(o.spawnErr, err)
}

func (o *recordingObserver) ObserveRun(ctx context.Context, res result.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, res)
}

func (o *recordingObserver) ObserveCleanup(ctx context.Context, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanups = append(o.cleanups, err)
}

func (o *recordingObserver) counts() (runs, cleanups int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs), len(o.cleanups)
}

type harness struct {
	clock    *fakeClock
	eng      *fakeEngine
	sig      *fakeSignaler
	obs      *recordingObserver
	registry *hooks.Registry
	sup      *Supervisor
}

func newHarness(t *testing.T, mutate func(o *Options)) *harness {
	t.Helper()
	clock := newFakeClock()
	eng := newFakeEngine(clock)
	h := &harness{
		clock:    clock,
		eng:      eng,
		sig:      &fakeSignaler{eng: eng},
		obs:      &recordingObserver{},
		registry: hooks.NewRegistry(),
	}
	opts := Options{
		Clock:    clock,
		Observer: h.obs,
		Hooks:    h.registry,
		Signaler: h.sig,
	}
	if mutate != nil {
		mutate(&opts)
	}
	sup, err := New(eng, opts)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	h.sup = sup
	return h
}

// drive advances the clock one interval at a time until the run resolves and
// returns the number of ticks the monitor consumed.
func (h *harness) drive(t *testing.T, run *RunHandle, interval time.Duration, maxTicks int) int {
	t.Helper()
	ticks := 0
	for {
		select {
		case <-run.Done():
			return ticks
		default:
		}
		if ticks > maxTicks {
			t.Fatalf("run did not finish within %d ticks", maxTicks)
		}
		if h.clock.Advance(interval) {
			ticks++
			select {
			case <-h.eng.cpuReads:
			case <-run.Done():
				return ticks
			case <-time.After(5 * time.Second):
				t.Fatalf("monitor did not sample tick %d", ticks)
			}
			continue
		}
		select {
		case <-run.Done():
			return ticks
		case <-time.After(5 * time.Second):
			t.Fatalf("run did not finish after monitor stopped (ticks=%d)", ticks)
		}
	}
}

func waitResult(t *testing.T, run *RunHandle) (result.RunResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Result(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for result")
	}
	return res, err
}

func waitCleanup(t *testing.T, run *RunHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := run.Cleanup(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for cleanup")
	}
	return err
}

func baseParams() spec.RunParameters {
	return spec.RunParameters{
		Executable: "/bin/true",
		CgroupName: "judge",
	}
}
