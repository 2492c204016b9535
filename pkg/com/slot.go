package com

import (
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// Empty is the payload of signals that carry no argument.
type Empty = struct{}

// AnySlot is the type-erased view of a Slot used for name-based connection.
type AnySlot interface {
	ID() string
	Name() string
	PayloadType() reflect.Type
	SetWorker(w *worker.Worker)
	Worker() *worker.Worker
}

// Slot is a typed callable endpoint, optionally bound to a worker.
type Slot[T any] struct {
	id   string
	name string
	fn   func(T) error

	mu     sync.RWMutex
	worker *worker.Worker
}

// NewSlot creates a slot from a function that cannot fail.
func NewSlot[T any](fn func(T)) *Slot[T] {
	if fn == nil {
		return NewSlotE[T](nil)
	}
	return NewSlotE(func(v T) error {
		fn(v)
		return nil
	})
}

// NewSlotE creates a slot from a function returning an error.
func NewSlotE[T any](fn func(T) error) *Slot[T] {
	id := uuid.NewString()
	return &Slot[T]{
		id:   id,
		name: "slot-" + id[:8],
		fn:   fn,
	}
}

// Named sets the slot name and returns the slot.
func (s *Slot[T]) Named(name string) *Slot[T] {
	s.name = name
	return s
}

// BindTo binds the slot to w and returns the slot.
func (s *Slot[T]) BindTo(w *worker.Worker) *Slot[T] {
	s.SetWorker(w)
	return s
}

// ID returns the slot identity.
func (s *Slot[T]) ID() string { return s.id }

// Name returns the slot name.
func (s *Slot[T]) Name() string { return s.name }

// PayloadType returns the reflected type of T.
func (s *Slot[T]) PayloadType() reflect.Type {
	return reflect.TypeFor[T]()
}

// SetWorker binds the slot to w. A nil worker unbinds it.
func (s *Slot[T]) SetWorker(w *worker.Worker) {
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
}

// Worker returns the bound worker, or nil.
func (s *Slot[T]) Worker() *worker.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worker
}

// Invoke calls the slot function on the caller's goroutine.
// A panic in the slot body is returned as a *worker.PanicError.
func (s *Slot[T]) Invoke(v T) (err error) {
	if s.fn == nil {
		return ErrNilSlot
	}
	defer func() {
		if r := recover(); r != nil {
			err = &worker.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.fn(v)
}

// InvokeAsync posts the call to the bound worker. Without a worker the call
// runs synchronously and the returned future is already resolved.
func (s *Slot[T]) InvokeAsync(v T) *worker.Future {
	return s.dispatch(func() error { return s.Invoke(v) })
}

// dispatch runs call on the bound worker, or inline when unbound.
func (s *Slot[T]) dispatch(call func() error) *worker.Future {
	w := s.Worker()
	if w == nil {
		return worker.Resolved(call())
	}
	return w.PostFuture(worker.Task(call))
}
