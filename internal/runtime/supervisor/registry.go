package supervisor

import (
	"sort"
	"sync"
)

// Source yields a subsystem's current supervisor, or nil while it is not
// running. Services create their supervisor on Start, so the registry keeps
// the service rather than a pointer captured at registration.
type Source interface {
	Supervisor() *Supervisor
}

// SourceFunc adapts a function to Source.
type SourceFunc func() *Supervisor

func (f SourceFunc) Supervisor() *Supervisor { return f() }

// Static wraps a fixed supervisor.
func Static(s *Supervisor) Source {
	return SourceFunc(func() *Supervisor { return s })
}

// Registry tracks the supervisors of long-lived subsystems so that status
// endpoints can report on them without holding references to each service.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]Source{}}
}

// Set registers (or replaces) a source under name. A nil src deletes.
func (r *Registry) Set(name string, src Source) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if src == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = src
}

func (r *Registry) Delete(name string) { r.Set(name, nil) }

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshots captures every registered subsystem that is currently running.
func (r *Registry) Snapshots() map[string]Snapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	srcs := make(map[string]Source, len(r.m))
	for k, v := range r.m {
		srcs[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]Snapshot, len(srcs))
	for k, src := range srcs {
		if sup := src.Supervisor(); sup != nil {
			out[k] = sup.Snapshot()
		}
	}
	return out
}
