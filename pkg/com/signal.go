package com

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/multierr"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

const (
	tracerName = "sight.com"
	spanEmit   = "com.signal.emit"
)

// AnySignal is the type-erased view of a Signal used for name-based connection.
type AnySignal interface {
	Name() string
	PayloadType() reflect.Type
	ConnectAny(slot AnySlot) (*Connection, error)
	NumConnections() int
	DisconnectAll()
}

type binding[T any] struct {
	conn *Connection
	slot *Slot[T]
}

// Signal is a named multicast emitter. Synchronous delivery follows
// connection insertion order.
type Signal[T any] struct {
	name string
	log  logger.Logger

	mu     sync.RWMutex
	conns  []binding[T]
	closed bool
}

// SignalOption configures a Signal.
type SignalOption func(*signalOptions)

type signalOptions struct {
	log logger.Logger
}

// WithSignalLogger sets the logger used to report slot failures.
func WithSignalLogger(l logger.Logger) SignalOption {
	return func(o *signalOptions) { o.log = l }
}

// NewSignal creates a signal.
func NewSignal[T any](name string, opts ...SignalOption) *Signal[T] {
	var o signalOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Signal[T]{
		name: name,
		log:  logger.OrComponent(o.log, "com").With("signal", name),
	}
}

// Name returns the signal name.
func (s *Signal[T]) Name() string { return s.name }

// PayloadType returns the reflected type of T.
func (s *Signal[T]) PayloadType() reflect.Type {
	return reflect.TypeFor[T]()
}

// Connect links slot to the signal. Connecting a nil slot returns nil.
// Connecting to a closed signal returns a connection that is already
// disconnected.
func (s *Signal[T]) Connect(slot *Slot[T]) *Connection {
	if slot == nil {
		return nil
	}
	conn := newConnection(s.name, slot, s.detach)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.invalidate()
		return conn
	}
	s.conns = append(s.conns, binding[T]{conn: conn, slot: slot})
	return conn
}

// ConnectFunc wraps fn in an unbound slot and connects it.
func (s *Signal[T]) ConnectFunc(fn func(T)) *Connection {
	if fn == nil {
		return nil
	}
	return s.Connect(NewSlot(fn))
}

// ConnectAny connects a type-erased slot. It fails with a ConfigurationError
// when the payload types differ.
func (s *Signal[T]) ConnectAny(slot AnySlot) (*Connection, error) {
	if slot == nil {
		return nil, ErrNilSlot
	}
	typed, ok := slot.(*Slot[T])
	if !ok {
		return nil, &ConfigurationError{
			Signal: s.name,
			Slot:   slot.Name(),
			Reason: fmt.Sprintf("payload type mismatch: signal carries %s, slot expects %s", s.PayloadType(), slot.PayloadType()),
		}
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrSignalClosed
	}
	return s.Connect(typed), nil
}

func (s *Signal[T]) detach(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.conns {
		if b.conn == conn {
			s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
			return
		}
	}
}

// NumConnections returns the number of live connections.
func (s *Signal[T]) NumConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// DisconnectAll invalidates every outstanding connection. The signal stays
// usable.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, b := range conns {
		b.conn.invalidate()
	}
}

// Close disconnects everything and refuses further connections. It is called
// when the owner of the signal goes away.
func (s *Signal[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.DisconnectAll()
}

func (s *Signal[T]) snapshot() []binding[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.conns) == 0 {
		return nil
	}
	out := make([]binding[T], len(s.conns))
	copy(out, s.conns)
	return out
}

// Emit calls every connected, unblocked slot on the caller's goroutine in
// insertion order and returns once all of them returned.
//
// Connections added during the emission are not notified. Connections
// removed during it are skipped if not visited yet. A failing slot does not
// stop delivery; every failure is logged and the combined
// *SlotInvocationError values are returned.
func (s *Signal[T]) Emit(v T) error {
	start := time.Now()
	conns := s.snapshot()
	recorder := metricsRecorder()
	recorder.RecordEmit(s.name, ModeSync, len(conns))

	var errs error
	blocked := 0
	for _, b := range conns {
		if !b.conn.deliverable() {
			if b.conn.IsBlocked() {
				blocked++
			}
			continue
		}
		if err := b.slot.Invoke(v); err != nil {
			recorder.RecordSlotFailure(s.name, ModeSync)
			s.log.Error("Slot invocation failed", "slot", b.slot.Name(), "error", err)
			errs = multierr.Append(errs, &SlotInvocationError{Signal: s.name, Slot: b.slot.Name(), Cause: err})
			continue
		}
		recorder.RecordDelivery(s.name, ModeSync)
	}
	recorder.RecordEmitDuration(s.name, time.Since(start))
	s.noteSuppressed(ModeSync, len(conns), blocked)
	return errs
}

// noteSuppressed logs emissions that reached nobody because every connection
// was blocked. Under a self-echo guard on the only connection the emission is
// a no-op by construction.
func (s *Signal[T]) noteSuppressed(mode string, total, blocked int) {
	if total > 0 && blocked == total {
		s.log.Debug("Emission suppressed, every connection is blocked", "mode", mode, "connections", total)
	}
}

// EmitContext is Emit inside a tracing span.
func (s *Signal[T]) EmitContext(ctx context.Context, v T) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanEmit)
	defer span.End()
	span.SetAttributes(
		attribute.String("signal.name", s.name),
		attribute.Int("signal.connections", s.NumConnections()),
	)

	err := s.Emit(v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "slot invocation failed")
		s.log.WarnContext(ctx, "Signal emission had failures", "failures", len(multierr.Errors(err)))
	}
	return err
}

// AsyncEmit hands v to every connected, unblocked slot and returns without
// waiting. Slots bound to a worker run there in posting order; unbound slots
// run before AsyncEmit returns.
//
// Blocking is evaluated now. Disconnecting a connection cancels its
// deliveries that have not run yet.
func (s *Signal[T]) AsyncEmit(v T) {
	conns := s.snapshot()
	recorder := metricsRecorder()
	recorder.RecordEmit(s.name, ModeAsync, len(conns))

	blocked := 0
	for _, b := range conns {
		if !b.conn.deliverable() {
			if b.conn.IsBlocked() {
				blocked++
			}
			continue
		}
		conn, slot := b.conn, b.slot
		deliver := func() error {
			if !conn.IsConnected() {
				return nil
			}
			if err := slot.Invoke(v); err != nil {
				recorder.RecordSlotFailure(s.name, ModeAsync)
				return &SlotInvocationError{Signal: s.name, Slot: slot.Name(), Cause: err}
			}
			recorder.RecordDelivery(s.name, ModeAsync)
			return nil
		}

		w := slot.Worker()
		if w == nil {
			if err := deliver(); err != nil {
				s.log.Error("Slot invocation failed", "slot", slot.Name(), "error", err)
			}
			continue
		}
		if err := w.Post(deliver); err != nil {
			s.log.Warn("Asynchronous delivery rejected", "slot", slot.Name(), "worker", w.Name(), "error", err)
		}
	}
	s.noteSuppressed(ModeAsync, len(conns), blocked)
}
