package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerStopped is returned when posting to a worker whose stop was requested.
	ErrWorkerStopped = errors.New("worker: stopped")

	// ErrTaskDropped resolves futures of tasks discarded by Kill.
	ErrTaskDropped = errors.New("worker: task dropped")

	// ErrNilTask is returned when posting a nil task.
	ErrNilTask = errors.New("worker: task cannot be nil")
)

// TaskError is a task failure caught at the task-execution boundary.
type TaskError struct {
	Worker string
	Seq    uint64
	Cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("worker %s: task #%d failed: %v", e.Worker, e.Seq, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// PanicError carries a recovered panic value and the stack at recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// WorkerNotFoundError is returned by Manager lookups of unknown names.
type WorkerNotFoundError struct {
	Name string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("worker %s not found", e.Name)
}

// DuplicateWorkerError is returned when adding a worker under a taken name.
type DuplicateWorkerError struct {
	Name string
}

func (e *DuplicateWorkerError) Error() string {
	return fmt.Sprintf("worker %s already exists", e.Name)
}

// IsTaskError returns true if err wraps a TaskError.
func IsTaskError(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

// IsPanicError returns true if err wraps a PanicError.
func IsPanicError(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}

// IsWorkerNotFoundError returns true if the error is a WorkerNotFoundError.
func IsWorkerNotFoundError(err error) bool {
	var nf *WorkerNotFoundError
	return errors.As(err, &nf)
}
