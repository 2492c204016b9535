// Package service provides the base that lets a component act as a service:
// it owns slots, gets its declared auto-connections made on Start, and
// publishes its outputs through the registry.
package service

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// ErrAlreadyStarted is returned by Start on a running service.
var ErrAlreadyStarted = errors.New("service: already started")

// Base implements registry.Service and com.HasSlots.
type Base struct {
	id        string
	classname string
	log       logger.Logger
	registry  *registry.Registry
	owner     registry.Service

	slots   *com.SlotSet
	signals *com.SignalSet
	auto    com.AutoConnections

	mu      sync.Mutex
	worker  *worker.Worker
	conns   *com.ConnectionSet
	started bool
	outputs map[outputSlot]data.Object
}

// outputSlot names an output. The registry only references outputs weakly,
// so the base keeps them alive while they are published.
type outputSlot struct {
	key   string
	index int
}

func slotOf(key string, index []int) outputSlot {
	if len(index) == 0 {
		return outputSlot{key: key, index: registry.NoIndex}
	}
	return outputSlot{key: key, index: index[0]}
}

// Option configures a Base.
type Option func(*Base)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.log = l
		}
	}
}

// WithRegistry sets the registry outputs are published to. The process
// registry is used by default.
func WithRegistry(r *registry.Registry) Option {
	return func(b *Base) { b.registry = r }
}

// WithWorker binds every slot of the service to w.
func WithWorker(w *worker.Worker) Option {
	return func(b *Base) { b.worker = w }
}

// WithAutoConnections declares the connections made on Start.
func WithAutoConnections(ac com.AutoConnections) Option {
	return func(b *Base) {
		if ac != nil {
			b.auto = ac
		}
	}
}

// NewBase creates a stopped service base.
func NewBase(classname string, opts ...Option) *Base {
	b := &Base{
		id:        uuid.NewString(),
		classname: classname,
		slots:     com.NewSlotSet(),
		signals:   com.NewSignalSet(),
		auto:      com.AutoConnections{},
		outputs:   make(map[outputSlot]data.Object),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = registry.Get()
	}
	b.log = logger.OrComponent(b.log, "service").With("service", classname, "service_id", b.id)
	return b
}

// SetOwner makes the registry track owner, the type embedding the base,
// instead of the base itself. It must be called before Start.
func (b *Base) SetOwner(owner registry.Service) {
	b.owner = owner
}

func (b *Base) self() registry.Service {
	if b.owner != nil {
		return b.owner
	}
	return b
}

// ID returns the service identity.
func (b *Base) ID() string { return b.id }

// Classname returns the service class name.
func (b *Base) Classname() string { return b.classname }

// Slots returns the service slots.
func (b *Base) Slots() *com.SlotSet { return b.slots }

// Signals returns the service signals.
func (b *Base) Signals() *com.SignalSet { return b.signals }

// Worker returns the worker the slots are bound to, or nil.
func (b *Base) Worker() *worker.Worker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.worker
}

// Registry returns the registry the service publishes to.
func (b *Base) Registry() *registry.Registry { return b.registry }

// AutoConnections returns the declared connections.
func (b *Base) AutoConnections() com.AutoConnections { return b.auto }

// Connections returns the connections made on Start, or nil when stopped.
func (b *Base) Connections() *com.ConnectionSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns
}

// IsStarted reports whether the service is running.
func (b *Base) IsStarted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// Start binds the slots, makes the declared connections from inputs and
// registers the service. Connection failures are returned together; the
// connections that could be made stay and the service is started anyway.
func (b *Base) Start(inputs map[string]com.HasSignals) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	if b.worker != nil {
		b.slots.SetWorker(b.worker)
	}
	conns, connErr := b.auto.Apply(inputs, b)
	b.conns = conns
	b.started = true
	b.mu.Unlock()

	if connErr != nil {
		b.log.Warn("Some auto-connections failed", "error", connErr)
	}
	if err := b.registry.RegisterService(b.self()); err != nil && !registry.IsDoubleRegistrationError(err) {
		return err
	}
	b.log.Debug("Service started", "connections", conns.Len())
	return connErr
}

// Stop disconnects the auto-connections and unregisters the service and
// its outputs. Stopping a stopped service does nothing.
func (b *Base) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	conns := b.conns
	b.conns = nil
	b.started = false
	b.mu.Unlock()

	if conns != nil {
		conns.DisconnectAll()
	}
	err := b.registry.UnregisterService(b.self())
	b.mu.Lock()
	clear(b.outputs)
	b.mu.Unlock()
	if registry.IsNotFoundError(err) {
		err = nil
	}
	b.log.Debug("Service stopped")
	return err
}

// Block suppresses delivery on every auto-connection until the returned
// Blocker is released. It is the way to avoid reacting to one's own changes.
func (b *Base) Block() *com.Blocker {
	b.mu.Lock()
	conns := b.conns
	b.mu.Unlock()
	if conns == nil {
		return com.NewConnectionSet().Block()
	}
	return conns.Block()
}

// SetOutput publishes obj as the output key, or key[index]. An output that
// already exists is replaced.
func (b *Base) SetOutput(key string, obj data.Object, index ...int) error {
	if _, exists := b.registry.Output(key, b.self(), index...); exists {
		if err := b.registry.UnregisterServiceOutput(key, b.self(), index...); err != nil && !registry.IsNotFoundError(err) {
			return err
		}
	}
	slot := slotOf(key, index)
	if obj == nil {
		b.mu.Lock()
		delete(b.outputs, slot)
		b.mu.Unlock()
		return nil
	}
	if err := b.registry.RegisterServiceOutput(obj, key, b.self(), index...); err != nil {
		return err
	}
	b.mu.Lock()
	b.outputs[slot] = obj
	b.mu.Unlock()
	return nil
}

// ClearOutput withdraws the output key, or key[index].
func (b *Base) ClearOutput(key string, index ...int) error {
	b.mu.Lock()
	delete(b.outputs, slotOf(key, index))
	b.mu.Unlock()
	return b.registry.UnregisterServiceOutput(key, b.self(), index...)
}

// Output returns the published output key, or key[index].
func (b *Base) Output(key string, index ...int) (data.Object, bool) {
	return b.registry.Output(key, b.self(), index...)
}
