package registry

import (
	"sort"

	"github.com/IRCAD/sight-sub083/pkg/data"
)

// servicesLocked returns the live services in registration order.
func (r *Registry) servicesLocked() []Service {
	entries := make([]*serviceEntry, 0, len(r.services))
	for _, e := range r.services {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Service, 0, len(entries))
	for _, e := range entries {
		if svc, ok := e.svc.get(); ok {
			out = append(out, svc)
		}
	}
	return out
}

// outputLocked resolves an output to its object, if both are still alive.
func (r *Registry) outputLocked(k outputKey) (data.Object, bool) {
	objID, ok := r.outputs[k]
	if !ok {
		return nil, false
	}
	if e, ok := r.services[k.service]; !ok || !e.svc.alive() {
		return nil, false
	}
	e, ok := r.objects[objID]
	if !ok {
		return nil, false
	}
	return e.obj.get()
}

// Services returns every registered service in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.servicesLocked()
}

// ServicesOf returns the registered services implementing T.
func ServicesOf[T any](r *Registry) []T {
	var out []T
	for _, svc := range r.Services() {
		if typed, ok := svc.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// ServicesByClassname returns the registered services of the given class.
func (r *Registry) ServicesByClassname(classname string) []Service {
	var out []Service
	for _, svc := range r.Services() {
		if svc.Classname() == classname {
			out = append(out, svc)
		}
	}
	return out
}

// Service returns the service registered under id.
func (r *Registry) Service(id string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[id]
	if !ok {
		return nil, false
	}
	return e.svc.get()
}

// HasService reports whether svc is registered.
func (r *Registry) HasService(svc Service) bool {
	if svc == nil {
		return false
	}
	_, ok := r.Service(svc.ID())
	return ok
}

// Output returns the object svc registered under key, or key[index].
func (r *Registry) Output(key string, svc Service, index ...int) (data.Object, bool) {
	if svc == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputLocked(outputKey{service: svc.ID(), key: key, index: indexOf(index)})
}

// Outputs returns the outputs of svc keyed by "key" or "key#index".
func (r *Registry) Outputs(svc Service) map[string]data.Object {
	out := make(map[string]data.Object)
	if svc == nil {
		return out
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.outputs {
		if k.service != svc.ID() {
			continue
		}
		if obj, ok := r.outputLocked(k); ok {
			out[outputName(k.key, k.index)] = obj
		}
	}
	return out
}

// ServicesAttachedTo returns the services that registered obj as an output,
// in registration order.
func (r *Registry) ServicesAttachedTo(obj data.Object) []Service {
	if obj == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.objects[obj.ID()]
	if !ok || !entry.obj.alive() {
		return nil
	}
	ids := make(map[string]struct{})
	for _, k := range entry.outputs.ToSlice() {
		ids[k.service] = struct{}{}
	}
	var out []Service
	for _, svc := range r.servicesLocked() {
		if _, ok := ids[svc.ID()]; ok {
			out = append(out, svc)
		}
	}
	return out
}

// IsRegistered reports whether obj is the output of at least one service.
func (r *Registry) IsRegistered(obj data.Object) bool {
	if obj == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.objects[obj.ID()]
	return ok && entry.obj.alive()
}

// Object returns the registered object with the given id.
func (r *Registry) Object(id string) (data.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.objects[id]
	if !ok {
		return nil, false
	}
	return entry.obj.get()
}

// Len returns the number of live services and objects.
func (r *Registry) Len() (services, objects int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.services {
		if e.svc.alive() {
			services++
		}
	}
	for _, e := range r.objects {
		if e.obj.alive() {
			objects++
		}
	}
	return services, objects
}
