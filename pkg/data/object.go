// Package data defines the managed objects the messaging core notifies and
// locks.
//
// Every object carries its own reader/writer lock and a set of named signals.
// Accessor methods lock the object themselves. Properties is the exception:
// it must be called with at least a read lock held, which is what the
// recursive lock visitor does.
package data

import (
	"sync"

	"github.com/google/uuid"

	"github.com/IRCAD/sight-sub083/pkg/com"
)

// Signal names shared by data objects.
const (
	SignalModified       = "modified"
	SignalAddedObjects   = "added_objects"
	SignalRemovedObjects = "removed_objects"
	SignalBufferModified = "buffer_modified"
)

// Lockable is an entity protected by a reader/writer lock. sync.RWMutex
// implements it.
type Lockable interface {
	RLock()
	TryRLock() bool
	RUnlock()
	Lock()
	Unlock()
}

// Object is a managed data object.
type Object interface {
	Lockable
	com.HasSignals

	ID() string
	Classname() string
	// Properties enumerates the object state. The caller holds a lock.
	Properties() []Property
	Modified() *com.Signal[com.Empty]
}

// Base implements the identity, locking and signal parts of Object.
// Concrete objects embed *Base and provide Properties.
type Base struct {
	sync.RWMutex

	id        string
	classname string
	signals   *com.SignalSet
	modified  *com.Signal[com.Empty]
}

// NewBase creates the common part of an object.
func NewBase(classname string) *Base {
	b := &Base{
		id:        uuid.NewString(),
		classname: classname,
		signals:   com.NewSignalSet(),
	}
	b.modified = com.AddSignal[com.Empty](b.signals, SignalModified)
	return b
}

// ID returns the object identity.
func (b *Base) ID() string { return b.id }

// Classname returns the object class name.
func (b *Base) Classname() string { return b.classname }

// Signals returns the object signals.
func (b *Base) Signals() *com.SignalSet { return b.signals }

// Modified returns the "modified" signal.
func (b *Base) Modified() *com.Signal[com.Empty] { return b.modified }

// Close disconnects every signal of the object. It is called when the owner
// drops the object.
func (b *Base) Close() {
	b.signals.Close()
}
