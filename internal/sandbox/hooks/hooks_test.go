package hooks_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"fuzsandbox/internal/sandbox/hooks"
)

func TestRegisterDeregister(t *testing.T) {
	t.Parallel()
	var installs int
	var listener func()
	r := hooks.NewRegistryWithListener(func(fn func()) func() {
		installs++
		listener = fn
		return func() {}
	})

	var fired atomic.Int32
	deregA := r.Register(func() { fired.Add(1) })
	deregB := r.Register(func() { fired.Add(10) })
	if r.Len() != 2 {
		t.Fatalf("expected 2 hooks, got %d", r.Len())
	}
	deregA()
	deregA()
	if r.Len() != 1 {
		t.Fatalf("expected 1 hook, got %d", r.Len())
	}
	if installs != 1 {
		t.Fatalf("expected one listener install, got %d", installs)
	}

	listener()
	if got := fired.Load(); got != 10 {
		t.Fatalf("expected only the live hook to fire, got %d", got)
	}
	if r.Len() != 0 {
		t.Fatalf("fired hooks should be removed, got %d", r.Len())
	}
	deregB()
	listener()
	if got := fired.Load(); got != 10 {
		t.Fatalf("hooks must fire at most once, got %d", got)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	t.Parallel()
	r := hooks.NewRegistryWithListener(nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dereg := r.Register(func() {})
			dereg()
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
