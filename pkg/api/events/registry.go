package events

import (
	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// OutputPayload describes an output event.
type OutputPayload struct {
	ServiceID string `json:"service_id"`
	Output    string `json:"output"`
	ObjectID  string `json:"object_id"`
	Classname string `json:"classname"`
}

// ServicePayload describes a service event.
type ServicePayload struct {
	ServiceID string `json:"service_id"`
	Classname string `json:"classname"`
}

// RegistryFeed turns registry signals into broadcast events. Its slots run
// on the given worker, so slow subscribers never hold up registry mutations.
type RegistryFeed struct {
	conns *com.ConnectionSet
}

// NewRegistryFeed connects the registry signals to b. A nil worker runs the
// slots on the emitting goroutine.
func NewRegistryFeed(reg *registry.Registry, w *worker.Worker, b *Broadcaster) *RegistryFeed {
	output := func(eventType string) *com.Slot[registry.OutputEvent] {
		return com.NewSlot(func(ev registry.OutputEvent) {
			p := OutputPayload{ServiceID: ev.ServiceID, Output: ev.Name()}
			if ev.Object != nil {
				p.ObjectID = ev.Object.ID()
				p.Classname = ev.Object.Classname()
			}
			b.Broadcast(Event{Type: eventType, Payload: p})
		}).Named(eventType).BindTo(w)
	}
	service := func(eventType string) *com.Slot[registry.Service] {
		return com.NewSlot(func(svc registry.Service) {
			b.Broadcast(Event{Type: eventType, Payload: ServicePayload{
				ServiceID: svc.ID(),
				Classname: svc.Classname(),
			}})
		}).Named(eventType).BindTo(w)
	}

	conns := com.NewConnectionSet()
	conns.Add(reg.Registered().Connect(output(TypeOutputRegistered)))
	conns.Add(reg.Unregistered().Connect(output(TypeOutputUnregistered)))
	conns.Add(reg.ServiceAdded().Connect(service(TypeServiceAdded)))
	conns.Add(reg.ServiceRemoved().Connect(service(TypeServiceRemoved)))
	return &RegistryFeed{conns: conns}
}

// Close disconnects the feed from the registry.
func (f *RegistryFeed) Close() {
	f.conns.DisconnectAll()
}
