package com

import (
	"fmt"
	"sort"
	"sync"

	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// HasSignals is implemented by objects and services that expose named signals.
type HasSignals interface {
	Signals() *SignalSet
}

// HasSlots is implemented by services that expose named slots.
type HasSlots interface {
	Slots() *SlotSet
}

// SignalSet maps names to signals.
type SignalSet struct {
	mu      sync.RWMutex
	signals map[string]AnySignal
}

// NewSignalSet creates an empty signal set.
func NewSignalSet() *SignalSet {
	return &SignalSet{signals: make(map[string]AnySignal)}
}

// Add registers sig under its name.
func (s *SignalSet) Add(sig AnySignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.signals[sig.Name()]; exists {
		return &DuplicateNameError{Kind: "signal", Name: sig.Name()}
	}
	s.signals[sig.Name()] = sig
	return nil
}

// Get returns the signal registered under name.
func (s *SignalSet) Get(name string) (AnySignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[name]
	return sig, ok
}

// Names returns the sorted signal names.
func (s *SignalSet) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.signals))
	for name := range s.signals {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close closes every signal of the set. It is called when the owner goes away.
func (s *SignalSet) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.signals {
		if c, ok := sig.(interface{ Close() }); ok {
			c.Close()
			continue
		}
		sig.DisconnectAll()
	}
}

// AddSignal creates a signal, adds it to set and returns it.
// It panics on a duplicate name, which is a programming error of the owner.
func AddSignal[T any](set *SignalSet, name string, opts ...SignalOption) *Signal[T] {
	sig := NewSignal[T](name, opts...)
	if err := set.Add(sig); err != nil {
		panic(err)
	}
	return sig
}

// SignalOf returns the typed signal registered under name.
func SignalOf[T any](set *SignalSet, name string) (*Signal[T], error) {
	sig, ok := set.Get(name)
	if !ok {
		return nil, &ConfigurationError{Signal: name, Reason: "signal not found"}
	}
	typed, ok := sig.(*Signal[T])
	if !ok {
		return nil, &ConfigurationError{
			Signal: name,
			Reason: fmt.Sprintf("signal carries %s", sig.PayloadType()),
		}
	}
	return typed, nil
}

// SlotSet maps names to slots.
type SlotSet struct {
	mu    sync.RWMutex
	slots map[string]AnySlot
}

// NewSlotSet creates an empty slot set.
func NewSlotSet() *SlotSet {
	return &SlotSet{slots: make(map[string]AnySlot)}
}

// Add registers slot under its name.
func (s *SlotSet) Add(slot AnySlot) error {
	if slot == nil {
		return ErrNilSlot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.slots[slot.Name()]; exists {
		return &DuplicateNameError{Kind: "slot", Name: slot.Name()}
	}
	s.slots[slot.Name()] = slot
	return nil
}

// Get returns the slot registered under name.
func (s *SlotSet) Get(name string) (AnySlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[name]
	return slot, ok
}

// Names returns the sorted slot names.
func (s *SlotSet) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// SetWorker binds every slot of the set to w.
func (s *SlotSet) SetWorker(w *worker.Worker) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.slots {
		slot.SetWorker(w)
	}
}

// AddSlot creates a named slot from fn, adds it to set and returns it.
// It panics on a duplicate name, which is a programming error of the owner.
func AddSlot[T any](set *SlotSet, name string, fn func(T) error) *Slot[T] {
	slot := NewSlotE(fn).Named(name)
	if err := set.Add(slot); err != nil {
		panic(err)
	}
	return slot
}

// ConnectByName connects src's signal to dst's slot.
func ConnectByName(src HasSignals, signalName string, dst HasSlots, slotName string) (*Connection, error) {
	sig, ok := src.Signals().Get(signalName)
	if !ok {
		return nil, &ConfigurationError{Signal: signalName, Slot: slotName, Reason: "signal not found"}
	}
	slot, ok := dst.Slots().Get(slotName)
	if !ok {
		return nil, &ConfigurationError{Signal: signalName, Slot: slotName, Reason: "slot not found"}
	}
	return sig.ConnectAny(slot)
}
