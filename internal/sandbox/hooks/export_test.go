package hooks

// NewRegistryWithListener exposes the listener seam to tests.
func NewRegistryWithListener(listen func(fn func()) func()) *Registry {
	return newRegistry(listen)
}
