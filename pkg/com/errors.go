package com

import (
	"errors"
	"fmt"
)

var (
	// ErrNilSlot is returned when connecting or creating a slot without a function.
	ErrNilSlot = errors.New("com: slot cannot be nil")

	// ErrSignalClosed is returned when connecting to a signal whose owner is gone.
	ErrSignalClosed = errors.New("com: signal is closed")
)

// ConfigurationError reports a declared connection that cannot be made:
// unknown signal, unknown slot, or mismatching payload types.
type ConfigurationError struct {
	Role   string
	Signal string
	Slot   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("cannot connect %s.%s to slot %s: %s", e.Role, e.Signal, e.Slot, e.Reason)
	}
	return fmt.Sprintf("cannot connect signal %s to slot %s: %s", e.Signal, e.Slot, e.Reason)
}

// SlotInvocationError is a failure that escaped a slot body during delivery.
type SlotInvocationError struct {
	Signal string
	Slot   string
	Cause  error
}

func (e *SlotInvocationError) Error() string {
	return fmt.Sprintf("slot %s failed on signal %s: %v", e.Slot, e.Signal, e.Cause)
}

func (e *SlotInvocationError) Unwrap() error { return e.Cause }

// DuplicateNameError is returned when a signal or slot name is already taken
// in a SignalSet or SlotSet.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Name)
}

// IsConfigurationError returns true if err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsSlotInvocationError returns true if err wraps a SlotInvocationError.
func IsSlotInvocationError(err error) bool {
	var se *SlotInvocationError
	return errors.As(err, &se)
}
