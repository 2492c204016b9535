package registry

import (
	"errors"
	"fmt"
)

// ErrNilService is returned when a nil service is passed to the registry.
var ErrNilService = errors.New("registry: service cannot be nil")

// DoubleRegistrationError is returned when a service, or an output of a
// service, is registered twice without being unregistered in between.
type DoubleRegistrationError struct {
	ServiceID string
	Key       string
	Index     int
}

func (e *DoubleRegistrationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("service %s is already registered", e.ServiceID)
	}
	return fmt.Sprintf("output %s of service %s is already registered", outputName(e.Key, e.Index), e.ServiceID)
}

// NotFoundError is returned when unregistering something the registry does
// not know.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsDoubleRegistrationError returns true if err wraps a DoubleRegistrationError.
func IsDoubleRegistrationError(err error) bool {
	var de *DoubleRegistrationError
	return errors.As(err, &de)
}

// IsNotFoundError returns true if err wraps a NotFoundError.
func IsNotFoundError(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
