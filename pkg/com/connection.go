package com

import (
	"sync"
	"sync/atomic"
)

// Connection links one signal to one slot.
//
// A connection is enabled unless at least one Blocker holds it. Disconnect is
// safe while an emission is in flight: an emission that has not reached the
// connection yet skips it, and pending asynchronous deliveries are dropped.
type Connection struct {
	signal string
	slot   string
	slotID string

	detach    func(*Connection)
	connected atomic.Bool
	blocks    atomic.Int32
}

func newConnection(signal string, slot AnySlot, detach func(*Connection)) *Connection {
	c := &Connection{
		signal: signal,
		slot:   slot.Name(),
		slotID: slot.ID(),
		detach: detach,
	}
	c.connected.Store(true)
	return c
}

// SignalName returns the name of the connected signal.
func (c *Connection) SignalName() string { return c.signal }

// SlotName returns the name of the connected slot.
func (c *Connection) SlotName() string { return c.slot }

// SlotID returns the identity of the connected slot.
func (c *Connection) SlotID() string { return c.slotID }

// Disconnect removes the connection from its signal. It is idempotent and
// safe on a nil connection.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	if c.connected.CompareAndSwap(true, false) && c.detach != nil {
		c.detach(c)
	}
}

// IsConnected reports whether the connection still belongs to its signal.
func (c *Connection) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// IsBlocked reports whether delivery is currently suppressed.
func (c *Connection) IsBlocked() bool {
	return c != nil && c.blocks.Load() > 0
}

func (c *Connection) deliverable() bool {
	return c.connected.Load() && c.blocks.Load() == 0
}

// invalidate marks the connection disconnected without calling back into
// the signal, which already dropped it.
func (c *Connection) invalidate() {
	c.connected.Store(false)
}

// Block suppresses delivery until the returned Blocker is released.
//
//	defer conn.Block().Unblock()
func (c *Connection) Block() *Blocker {
	if c == nil {
		return &Blocker{}
	}
	c.blocks.Add(1)
	return &Blocker{conns: []*Connection{c}}
}

// Blocker is a scoped delivery-suppression token. Releasing it restores the
// state the connections had before it was acquired; blockers nest.
type Blocker struct {
	conns []*Connection
	once  sync.Once
}

// Unblock releases the token. Further calls do nothing.
func (b *Blocker) Unblock() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		for _, c := range b.conns {
			c.blocks.Add(-1)
		}
	})
}

// WithBlocked runs fn with conn blocked and releases the block on every exit
// path, panics included.
func WithBlocked(conn *Connection, fn func() error) error {
	b := conn.Block()
	defer b.Unblock()
	return fn()
}
