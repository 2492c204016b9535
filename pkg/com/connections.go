package com

import (
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// ConnectionSet holds connections made together so they can be undone together.
type ConnectionSet struct {
	mu    sync.Mutex
	conns []*Connection
}

// NewConnectionSet creates an empty connection set.
func NewConnectionSet() *ConnectionSet {
	return &ConnectionSet{}
}

// Add appends conn to the set. Nil connections are ignored.
func (cs *ConnectionSet) Add(conn *Connection) {
	if conn == nil {
		return
	}
	cs.mu.Lock()
	cs.conns = append(cs.conns, conn)
	cs.mu.Unlock()
}

// Connect connects by name and keeps the resulting connection.
func (cs *ConnectionSet) Connect(src HasSignals, signalName string, dst HasSlots, slotName string) error {
	conn, err := ConnectByName(src, signalName, dst, slotName)
	if err != nil {
		return err
	}
	cs.Add(conn)
	return nil
}

// Len returns the number of held connections.
func (cs *ConnectionSet) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// DisconnectAll disconnects and forgets every held connection.
func (cs *ConnectionSet) DisconnectAll() {
	cs.mu.Lock()
	conns := cs.conns
	cs.conns = nil
	cs.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}

// Block blocks every held connection until the returned Blocker is released.
func (cs *ConnectionSet) Block() *Blocker {
	cs.mu.Lock()
	conns := make([]*Connection, len(cs.conns))
	copy(conns, cs.conns)
	cs.mu.Unlock()

	for _, c := range conns {
		c.blocks.Add(1)
	}
	return &Blocker{conns: conns}
}

// SignalSlot names one signal-to-slot link.
type SignalSlot struct {
	Signal string
	Slot   string
}

// AutoConnections declares, per object role, which signals feed which slots.
type AutoConnections map[string][]SignalSlot

// Push declares a link from role's signal to slot and returns ac. A nil ac is
// replaced by a new map, so the result must be kept.
func (ac AutoConnections) Push(role, signal, slot string) AutoConnections {
	if ac == nil {
		ac = make(AutoConnections)
	}
	ac[role] = append(ac[role], SignalSlot{Signal: signal, Slot: slot})
	return ac
}

// Apply makes every declared connection from objects to dst.
//
// Roles without an object are optional inputs and are skipped. A missing
// signal or slot, or a payload mismatch, yields a *ConfigurationError; all of
// them are returned together while the successful connections stay in the
// returned set.
func (ac AutoConnections) Apply(objects map[string]HasSignals, dst HasSlots) (*ConnectionSet, error) {
	roles := make([]string, 0, len(ac))
	for role := range ac {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	cs := NewConnectionSet()
	var errs error
	for _, role := range roles {
		obj, ok := objects[role]
		if !ok || obj == nil {
			continue
		}
		for _, link := range ac[role] {
			if err := cs.Connect(obj, link.Signal, dst, link.Slot); err != nil {
				errs = multierr.Append(errs, withRole(err, role))
			}
		}
	}
	return cs, errs
}

func withRole(err error, role string) error {
	if ce, ok := err.(*ConfigurationError); ok {
		out := *ce
		out.Role = role
		return &out
	}
	return err
}
