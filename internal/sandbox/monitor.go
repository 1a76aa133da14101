package sandbox

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fuzsandbox/internal/sandbox/engine"
	"fuzsandbox/pkg/utils/logger"

	"go.uber.org/zap"
)

const minSampleInterval = time.Millisecond

// sampleInterval is a tenth of the limit, capped at maxInterval and never
// below one millisecond.
func sampleInterval(limit, maxInterval time.Duration) time.Duration {
	interval := limit / 10
	if maxInterval > 0 && interval > maxInterval {
		interval = maxInterval
	}
	if interval < minSampleInterval {
		interval = minSampleInterval
	}
	return interval
}

// monitor bills CPU time to a run while it is alive. Each tick adds the
// larger of the counter delta and a wall-clock floor, so a process that
// sleeps or blocks still runs out of time.
type monitor struct {
	h        *RunHandle
	limit    time.Duration
	interval time.Duration
	ratio    float64

	ticker   Ticker
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	counted  time.Duration
	lastRaw  uint64
	lastTick time.Time
	ticks    int

	timedOut atomic.Bool
}

func newMonitor(h *RunHandle, limit time.Duration) *monitor {
	return &monitor{
		h:        h,
		limit:    limit,
		interval: sampleInterval(limit, h.sup.opts.MaxSampleInterval),
		ratio:    h.sup.opts.CPUFloorRatio,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *monitor) start(now time.Time) {
	m.lastTick = now
	m.ticker = m.h.sup.opts.Clock.NewTicker(m.interval)
	go m.loop()
}

func (m *monitor) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-m.ticker.C():
			select {
			case <-m.stopCh:
				return
			default:
			}
			if m.sample(now) {
				if err := m.h.kill(false); err != nil {
					logger.Error(m.h.ctx, "kill on time limit failed", zap.Error(err))
				}
				m.halt()
				return
			}
		}
	}
}

// sample bills one tick and reports whether the limit is now exceeded.
func (m *monitor) sample(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.lastTick)
	if elapsed < 0 {
		elapsed = 0
	}
	m.lastTick = now
	m.ticks++
	floor := time.Duration(float64(elapsed) * m.ratio)

	delta := time.Duration(0)
	raw, err := m.h.sup.engine.ReadProperty(engine.SubsystemCPUAcct, m.h.params.CgroupName, engine.PropertyCPUUsage)
	if err == nil {
		var counter uint64
		counter, err = strconv.ParseUint(raw, 10, 64)
		if err == nil {
			if counter > m.lastRaw {
				delta = time.Duration(counter - m.lastRaw)
			}
			m.lastRaw = counter
		}
	}
	if err != nil {
		logger.Warn(m.h.ctx, "read cpu usage failed, billing floor only", zap.Error(err))
	}

	if delta > floor {
		m.counted += delta
	} else {
		m.counted += floor
	}
	if m.counted > m.limit {
		m.timedOut.Store(true)
		logger.Info(m.h.ctx, "time limit exceeded",
			zap.Duration("counted", m.counted),
			zap.Duration("limit", m.limit),
			zap.Int("ticks", m.ticks),
		)
		return true
	}
	return false
}

// halt stops the ticker and signals the loop without waiting.
func (m *monitor) halt() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.ticker != nil {
			m.ticker.Stop()
		}
	})
}

// stop halts the monitor and waits for the loop to exit. No tick is billed
// after stop returns.
func (m *monitor) stop() {
	m.halt()
	<-m.done
}

func (m *monitor) state() (counted time.Duration, ticks int, timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counted, m.ticks, m.timedOut.Load()
}
