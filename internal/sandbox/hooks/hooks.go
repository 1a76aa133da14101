// Package hooks keeps the live process-exit hooks of running sandboxes.
//
// A single go-zero shutdown listener is installed on first use. When the host
// process is asked to shut down it runs every hook still registered, so no
// sandboxed child outlives its supervisor.
package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeromicro/go-zero/core/proc"
)

// Registry holds hooks keyed by registration id.
type Registry struct {
	hooks   *xsync.MapOf[uint64, func()]
	nextID  atomic.Uint64
	install sync.Once
	listen  func(fn func()) func()
}

// NewRegistry builds a registry bound to the go-zero shutdown listener.
func NewRegistry() *Registry {
	return newRegistry(proc.AddShutdownListener)
}

func newRegistry(listen func(fn func()) func()) *Registry {
	return &Registry{
		hooks:  xsync.NewMapOf[uint64, func()](),
		listen: listen,
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds fn and returns a function that removes it again.
// The returned function is safe to call more than once.
func (r *Registry) Register(fn func()) (deregister func()) {
	r.install.Do(func() {
		if r.listen != nil {
			r.listen(r.Fire)
		}
	})
	id := r.nextID.Add(1)
	r.hooks.Store(id, fn)
	return func() {
		r.hooks.Delete(id)
	}
}

// Fire runs and removes every registered hook.
func (r *Registry) Fire() {
	r.hooks.Range(func(id uint64, fn func()) bool {
		if hook, ok := r.hooks.LoadAndDelete(id); ok {
			hook()
		}
		return true
	})
}

// Len reports the number of live hooks.
func (r *Registry) Len() int {
	return r.hooks.Size()
}
