// Package registry tracks which services are running and which data objects
// they produced.
//
// The registry holds associations only. Services and objects given as
// pointers are referenced weakly: registering never keeps them alive, and
// once the garbage collector reclaims one its associations vanish without
// any signal. Teardown drops the associations without touching the objects
// themselves. Every mutation fires
// the registry signals once the registry lock has been released, so
// observers may call back into the registry.
package registry

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// NoIndex is the index of an output registered without one.
const NoIndex = -1

// Signal names of the registry.
const (
	SignalRegistered     = "registered"
	SignalUnregistered   = "unregistered"
	SignalServiceAdded   = "service_added"
	SignalServiceRemoved = "service_removed"
)

// Service is anything the registry can track.
type Service interface {
	ID() string
	Classname() string
}

// OutputEvent is the payload of the registered and unregistered signals.
type OutputEvent struct {
	Object    data.Object
	Key       string
	Index     int
	ServiceID string
}

// Name returns the output name, "key" or "key#index".
func (e OutputEvent) Name() string { return outputName(e.Key, e.Index) }

type outputKey struct {
	service string
	key     string
	index   int
}

type serviceEntry struct {
	id      string
	svc     ref[Service]
	seq     uint64
	cleanup runtime.Cleanup
}

type objectEntry struct {
	id        string
	classname string
	obj       ref[data.Object]
	outputs   mapset.Set[outputKey]
	cleanup   runtime.Cleanup
}

// Registry is a thread-safe object/service table.
type Registry struct {
	log   logger.Logger
	async bool

	mu       sync.RWMutex
	seq      uint64
	services map[string]*serviceEntry
	outputs  map[outputKey]string // object id
	objects  map[string]*objectEntry

	signals        *com.SignalSet
	registered     *com.Signal[OutputEvent]
	unregistered   *com.Signal[OutputEvent]
	serviceAdded   *com.Signal[Service]
	serviceRemoved *com.Signal[Service]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithAsyncEvents makes the registry emit its signals with AsyncEmit, so
// observers bound to workers never run on the mutating goroutine.
func WithAsyncEvents(async bool) Option {
	return func(r *Registry) { r.async = async }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]*serviceEntry),
		outputs:  make(map[outputKey]string),
		objects:  make(map[string]*objectEntry),
		signals:  com.NewSignalSet(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrComponent(r.log, "registry")

	sigLog := com.WithSignalLogger(r.log)
	r.registered = com.AddSignal[OutputEvent](r.signals, SignalRegistered, sigLog)
	r.unregistered = com.AddSignal[OutputEvent](r.signals, SignalUnregistered, sigLog)
	r.serviceAdded = com.AddSignal[Service](r.signals, SignalServiceAdded, sigLog)
	r.serviceRemoved = com.AddSignal[Service](r.signals, SignalServiceRemoved, sigLog)
	return r
}

// Signals returns the registry signals.
func (r *Registry) Signals() *com.SignalSet { return r.signals }

// Registered fires once per registered output.
func (r *Registry) Registered() *com.Signal[OutputEvent] { return r.registered }

// Unregistered fires once per removed output.
func (r *Registry) Unregistered() *com.Signal[OutputEvent] { return r.unregistered }

// ServiceAdded fires when a service becomes known.
func (r *Registry) ServiceAdded() *com.Signal[Service] { return r.serviceAdded }

// ServiceRemoved fires when a service is unregistered.
func (r *Registry) ServiceRemoved() *com.Signal[Service] { return r.serviceRemoved }

func indexOf(index []int) int {
	if len(index) == 0 {
		return NoIndex
	}
	return index[0]
}

func outputName(key string, index int) string {
	if index == NoIndex {
		return key
	}
	return fmt.Sprintf("%s#%d", key, index)
}

// RegisterService records that svc exists.
func (r *Registry) RegisterService(svc Service) error {
	if svc == nil {
		return ErrNilService
	}
	r.mu.Lock()
	_, exists := r.serviceLocked(svc.ID())
	if !exists {
		r.addServiceLocked(svc)
	}
	r.mu.Unlock()

	if exists {
		err := &DoubleRegistrationError{ServiceID: svc.ID(), Index: NoIndex}
		metricsRecorder().RecordMutation(OpRegisterService, err)
		return err
	}
	r.afterMutation(OpRegisterService)
	r.log.Debug("Service registered", "service", svc.ID(), "class", svc.Classname())
	emit(r, r.serviceAdded, svc)
	return nil
}

// serviceLocked returns the live service registered under id. An entry
// whose service was collected is dropped on the way.
func (r *Registry) serviceLocked(id string) (Service, bool) {
	e, ok := r.services[id]
	if !ok {
		return nil, false
	}
	svc, alive := e.svc.get()
	if !alive {
		r.dropServiceLocked(e)
		return nil, false
	}
	return svc, true
}

func (r *Registry) addServiceLocked(svc Service) {
	r.seq++
	e := &serviceEntry{id: svc.ID(), svc: makeRef(svc), seq: r.seq}
	e.cleanup = onCollected(svc, r.collectService, e)
	r.services[e.id] = e
}

// objectLocked returns the live object registered under id, dropping the
// entry and its outputs when the object was collected.
func (r *Registry) objectLocked(id string) (*objectEntry, data.Object, bool) {
	e, ok := r.objects[id]
	if !ok {
		return nil, nil, false
	}
	obj, alive := e.obj.get()
	if !alive {
		r.dropObjectLocked(e)
		return nil, nil, false
	}
	return e, obj, true
}

func (r *Registry) addObjectLocked(obj data.Object) *objectEntry {
	e := &objectEntry{
		id:        obj.ID(),
		classname: obj.Classname(),
		obj:       makeRef(obj),
		outputs:   mapset.NewThreadUnsafeSet[outputKey](),
	}
	e.cleanup = onCollected(obj, r.collectObject, e)
	r.objects[e.id] = e
	return e
}

// dropServiceLocked forgets a service and its outputs.
func (r *Registry) dropServiceLocked(e *serviceEntry) {
	e.cleanup.Stop()
	delete(r.services, e.id)
	for _, k := range r.outputKeysLocked(e.id) {
		r.removeOutputLocked(k)
	}
}

// dropObjectLocked forgets an object and every output referencing it.
func (r *Registry) dropObjectLocked(e *objectEntry) {
	e.cleanup.Stop()
	delete(r.objects, e.id)
	for _, k := range e.outputs.ToSlice() {
		delete(r.outputs, k)
	}
}

// collectService runs once the service behind e has been reclaimed.
func (r *Registry) collectService(e *serviceEntry) {
	r.mu.Lock()
	cur, ok := r.services[e.id]
	pruned := ok && cur == e && !e.svc.alive()
	if pruned {
		r.dropServiceLocked(e)
	}
	r.mu.Unlock()

	if pruned {
		r.log.Debug("Collected service pruned", "service", e.id)
		r.afterPrune()
	}
}

// collectObject runs once the object behind e has been reclaimed.
func (r *Registry) collectObject(e *objectEntry) {
	r.mu.Lock()
	cur, ok := r.objects[e.id]
	pruned := ok && cur == e && !e.obj.alive()
	if pruned {
		r.dropObjectLocked(e)
	}
	r.mu.Unlock()

	if pruned {
		r.log.Debug("Collected object pruned", "object", e.id, "class", e.classname)
		r.afterPrune()
	}
}

// RegisterServiceOutput records that svc owns obj under key, or key[index].
// The service is registered on the fly when needed.
func (r *Registry) RegisterServiceOutput(obj data.Object, key string, svc Service, index ...int) error {
	if svc == nil {
		return ErrNilService
	}
	if obj == nil {
		return fmt.Errorf("registry: nil object for output %s of service %s", key, svc.ID())
	}
	k := outputKey{service: svc.ID(), key: key, index: indexOf(index)}

	r.mu.Lock()
	_, known := r.serviceLocked(svc.ID())
	if objID, exists := r.outputs[k]; exists {
		if _, _, alive := r.objectLocked(objID); alive {
			r.mu.Unlock()
			err := &DoubleRegistrationError{ServiceID: svc.ID(), Key: key, Index: k.index}
			metricsRecorder().RecordMutation(OpRegisterServiceOutput, err)
			return err
		}
	}
	if !known {
		r.addServiceLocked(svc)
	}
	entry, _, ok := r.objectLocked(obj.ID())
	if !ok {
		entry = r.addObjectLocked(obj)
	}
	r.outputs[k] = entry.id
	entry.outputs.Add(k)
	r.mu.Unlock()

	r.afterMutation(OpRegisterServiceOutput)
	r.log.Debug("Output registered", "service", svc.ID(), "output", outputName(key, k.index), "object", obj.ID())
	if !known {
		emit(r, r.serviceAdded, svc)
	}
	emit(r, r.registered, OutputEvent{Object: obj, Key: key, Index: k.index, ServiceID: svc.ID()})
	return nil
}

// removeOutputLocked drops one output and, with it, the object entry when no
// other output references the object. It reports false when the output is
// unknown or its object was collected.
func (r *Registry) removeOutputLocked(k outputKey) (OutputEvent, bool) {
	objID, ok := r.outputs[k]
	if !ok {
		return OutputEvent{}, false
	}
	delete(r.outputs, k)
	entry, ok := r.objects[objID]
	if !ok {
		return OutputEvent{}, false
	}
	entry.outputs.Remove(k)
	if entry.outputs.Cardinality() == 0 {
		entry.cleanup.Stop()
		delete(r.objects, objID)
	}
	obj, alive := entry.obj.get()
	if !alive {
		return OutputEvent{}, false
	}
	return OutputEvent{Object: obj, Key: k.key, Index: k.index, ServiceID: k.service}, true
}

// UnregisterServiceOutput removes the output key, or key[index], of svc.
func (r *Registry) UnregisterServiceOutput(key string, svc Service, index ...int) error {
	if svc == nil {
		return ErrNilService
	}
	k := outputKey{service: svc.ID(), key: key, index: indexOf(index)}

	r.mu.Lock()
	ev, ok := r.removeOutputLocked(k)
	r.mu.Unlock()

	if !ok {
		err := &NotFoundError{Kind: "output", ID: svc.ID() + "/" + outputName(key, k.index)}
		metricsRecorder().RecordMutation(OpUnregisterServiceOutput, err)
		return err
	}
	r.afterMutation(OpUnregisterServiceOutput)
	r.log.Debug("Output unregistered", "service", svc.ID(), "output", ev.Name())
	emit(r, r.unregistered, ev)
	return nil
}

// UnregisterService removes svc and every output it registered.
func (r *Registry) UnregisterService(svc Service) error {
	if svc == nil {
		return ErrNilService
	}

	r.mu.Lock()
	registered, ok := r.serviceLocked(svc.ID())
	var events []OutputEvent
	if ok {
		r.services[svc.ID()].cleanup.Stop()
		delete(r.services, svc.ID())
		for _, k := range r.outputKeysLocked(svc.ID()) {
			if ev, removed := r.removeOutputLocked(k); removed {
				events = append(events, ev)
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		err := &NotFoundError{Kind: "service", ID: svc.ID()}
		metricsRecorder().RecordMutation(OpUnregisterService, err)
		return err
	}
	r.afterMutation(OpUnregisterService)
	r.log.Debug("Service unregistered", "service", svc.ID(), "outputs", len(events))
	for _, ev := range events {
		emit(r, r.unregistered, ev)
	}
	emit(r, r.serviceRemoved, registered)
	return nil
}

// outputKeysLocked returns the outputs of a service in key, index order.
func (r *Registry) outputKeysLocked(serviceID string) []outputKey {
	var keys []outputKey
	for k := range r.outputs {
		if k.service == serviceID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].key != keys[j].key {
			return keys[i].key < keys[j].key
		}
		return keys[i].index < keys[j].index
	})
	return keys
}

func (r *Registry) afterMutation(op string) {
	metricsRecorder().RecordMutation(op, nil)
	r.afterPrune()
}

func (r *Registry) afterPrune() {
	r.mu.RLock()
	services, objects := len(r.services), len(r.objects)
	r.mu.RUnlock()
	metricsRecorder().SetEntries(services, objects)
}

func emit[T any](r *Registry, sig *com.Signal[T], v T) {
	if r.async {
		sig.AsyncEmit(v)
		return
	}
	// Slot failures are logged by the signal.
	_ = sig.Emit(v)
}

// Clear drops every association and disconnects the registry signals.
// Objects and services are left untouched.
func (r *Registry) Clear() {
	r.mu.Lock()
	for _, e := range r.services {
		e.cleanup.Stop()
	}
	for _, e := range r.objects {
		e.cleanup.Stop()
	}
	r.services = make(map[string]*serviceEntry)
	r.outputs = make(map[outputKey]string)
	r.objects = make(map[string]*objectEntry)
	r.mu.Unlock()

	r.signals.Close()
	metricsRecorder().SetEntries(0, 0)
}
