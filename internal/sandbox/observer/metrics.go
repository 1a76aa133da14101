package observer

import (
	"context"
	"strconv"

	"fuzsandbox/internal/sandbox/result"

	"github.com/zeromicro/go-zero/core/metric"
)

const namespace = "sandbox"

var (
	spawnAttempts = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: namespace,
		Name:      "spawn_attempts_total",
		Help:      "Start attempts per spawn, labelled by final outcome.",
		Labels:    []string{"ok"},
	})
	runsTotal = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished runs by status.",
		Labels:    []string{"status"},
	})
	runCPU = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: namespace,
		Name:      "run_cpu_ms",
		Help:      "Authoritative CPU time of finished runs.",
		Labels:    []string{"status"},
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	runMemory = metric.NewHistogramVec(&metric.HistogramVecOpts{
		Namespace: namespace,
		Name:      "run_memory_kb",
		Help:      "Peak memory of finished runs.",
		Labels:    []string{"status"},
		Buckets:   []float64{1024, 8192, 32768, 65536, 131072, 262144, 524288, 1048576},
	})
	cleanupTotal = metric.NewCounterVec(&metric.CounterVecOpts{
		Namespace: namespace,
		Name:      "cleanup_total",
		Help:      "Accounting group releases by result.",
		Labels:    []string{"result"},
	})
)

// Metrics records run events into go-zero metric vectors.
type Metrics struct{}

// NewMetrics returns the prometheus-backed observer.
func NewMetrics() Metrics {
	return Metrics{}
}

func (Metrics) ObserveSpawn(ctx context.Context, attempts int, err error) {
	if attempts <= 0 {
		return
	}
	spawnAttempts.Add(float64(attempts), strconv.FormatBool(err == nil))
}

func (Metrics) ObserveRun(ctx context.Context, res result.RunResult) {
	status := res.Status.String()
	runsTotal.Inc(status)
	runCPU.Observe(res.Time.Milliseconds(), status)
	runMemory.Observe(res.Memory/1024, status)
}

func (Metrics) ObserveCleanup(ctx context.Context, err error) {
	if err != nil {
		cleanupTotal.Inc("failed")
		return
	}
	cleanupTotal.Inc("ok")
}
