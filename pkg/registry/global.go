package registry

import "sync"

var (
	globalMu sync.Mutex
	global   *Registry
)

// Init creates the process registry. Later calls return the existing one
// and ignore opts.
func Init(opts ...Option) *Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(opts...)
	}
	return global
}

// Get returns the process registry, creating it with default options when
// Init was not called.
func Get() *Registry {
	return Init()
}

// Teardown drops the process registry. Its associations are cleared and its
// signals disconnected; objects and services are not touched. Teardown is
// idempotent and a later Init starts from an empty registry.
func Teardown() {
	globalMu.Lock()
	r := global
	global = nil
	globalMu.Unlock()

	if r != nil {
		r.Clear()
	}
}
