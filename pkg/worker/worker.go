// Package worker provides the serial task queue slots are bound to.
//
// A Worker owns one goroutine that pops tasks from an unbounded FIFO queue and
// runs each one to completion before popping the next. Posting never blocks.
// Stop enqueues a sentinel, so every task accepted before it still runs.
//
// Basic usage:
//
//	w := worker.New("render")
//	defer w.Stop()
//
//	_ = w.Post(func() error {
//	    // runs on the worker goroutine
//	    return nil
//	})
//	_ = w.PostFuture(noop).Wait(ctx) // drain everything posted so far
package worker

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

const (
	tracerName = "sight.worker"
	spanTask   = "worker.task"
)

// Task is a unit of work executed on a worker goroutine.
type Task func() error

type item struct {
	seq    uint64
	task   Task
	future *Future
	stop   bool
}

// Worker is a single-goroutine FIFO task queue.
type Worker struct {
	id   string
	name string
	log  logger.Logger

	mu       sync.Mutex
	queue    []item
	stopping bool
	killed   bool
	seq      uint64
	wake     chan struct{}
	done     chan struct{}

	gid       atomic.Uint64
	running   atomic.Bool
	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a worker and starts its goroutine.
func New(name string, opts ...Option) *Worker {
	id := uuid.NewString()
	if name == "" {
		name = "worker-" + id[:8]
	}
	w := &Worker{
		id:   id,
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.OrComponent(w.log, "worker").With("worker", name)

	w.running.Store(true)
	go w.loop()
	return w
}

// ID returns the worker identity.
func (w *Worker) ID() string { return w.id }

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Post enqueues task and returns immediately.
func (w *Worker) Post(task Task) error {
	_, err := w.enqueue(task, nil)
	return err
}

// PostFuture enqueues task and returns a handle resolved once it ran.
// A rejected task yields an already-resolved future carrying the rejection.
func (w *Worker) PostFuture(task Task) *Future {
	f := newFuture()
	if _, err := w.enqueue(task, f); err != nil {
		f.resolve(err)
	}
	return f
}

func (w *Worker) enqueue(task Task, f *Future) (uint64, error) {
	if task == nil {
		return 0, ErrNilTask
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return 0, ErrWorkerStopped
	}
	w.seq++
	seq := w.seq
	w.queue = append(w.queue, item{seq: seq, task: task, future: f})
	w.mu.Unlock()

	metricsRecorder().RecordTaskQueued(w.name)
	w.notify()
	return seq, nil
}

func (w *Worker) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop requests the worker to exit once every task accepted so far has run.
// Later posts are rejected with ErrWorkerStopped. Stop is idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	w.queue = append(w.queue, item{stop: true})
	w.mu.Unlock()

	w.log.Debug("Worker stop requested")
	w.notify()
}

// StopAndWait stops the worker and waits for its goroutine to exit.
// Calling it from a task of the same worker would deadlock and returns an error.
func (w *Worker) StopAndWait(ctx context.Context) error {
	w.Stop()
	if w.IsCurrent() {
		return fmt.Errorf("worker %s: cannot wait for itself", w.name)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops the worker after the task in progress and drops everything
// still queued. It returns the number of dropped tasks.
func (w *Worker) Kill() int {
	w.mu.Lock()
	w.stopping = true
	w.killed = true
	dropped := w.queue
	w.queue = nil
	w.mu.Unlock()

	n := 0
	for _, it := range dropped {
		if it.stop {
			continue
		}
		n++
		if it.future != nil {
			it.future.resolve(ErrTaskDropped)
		}
	}
	if n > 0 {
		metricsRecorder().RecordTasksDropped(w.name, n)
		w.log.Warn("Worker killed with pending tasks", "dropped", n)
	}
	w.notify()
	return n
}

// Done is closed once the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// IsRunning reports whether the worker goroutine is still alive.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// IsCurrent reports whether the caller runs on this worker's goroutine.
func (w *Worker) IsCurrent() bool {
	return w.running.Load() && w.gid.Load() == goroutineID()
}

// Pending returns the number of queued tasks.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.queue)
	if w.stopping && !w.killed && n > 0 && w.queue[n-1].stop {
		n--
	}
	return n
}

// Processed returns the number of tasks that ran, failed ones included.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Failed returns the number of tasks that returned an error or panicked.
func (w *Worker) Failed() int64 {
	return w.failed.Load()
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		ID:        w.id,
		Name:      w.name,
		Running:   w.IsRunning(),
		Pending:   w.Pending(),
		Processed: w.Processed(),
		Failed:    w.Failed(),
	}
}

// Stats holds worker statistics.
type Stats struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Pending   int    `json:"pending"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

func (w *Worker) loop() {
	w.gid.Store(goroutineID())
	defer func() {
		w.running.Store(false)
		close(w.done)
		w.log.Debug("Worker exited", "processed", w.processed.Load())
	}()

	for {
		it, ok := w.next()
		if !ok || it.stop {
			return
		}
		w.execute(it)
	}
}

func (w *Worker) next() (item, bool) {
	for {
		w.mu.Lock()
		if w.killed {
			w.mu.Unlock()
			return item{}, false
		}
		if len(w.queue) > 0 {
			it := w.queue[0]
			w.queue[0] = item{}
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return it, true
		}
		w.mu.Unlock()
		<-w.wake
	}
}

func (w *Worker) execute(it item) {
	_, span := tracer().Start(context.Background(), spanTask,
		trace.WithAttributes(
			attribute.String("worker.name", w.name),
			attribute.Int64("worker.task_seq", int64(it.seq)),
		),
	)
	start := time.Now()
	err := runTask(it.task)
	duration := time.Since(start)
	w.processed.Add(1)

	if err != nil {
		err = &TaskError{Worker: w.name, Seq: it.seq, Cause: err}
		w.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.log.Error("Worker task failed", "seq", it.seq, "error", err)
	}
	span.End()

	metricsRecorder().RecordTaskDone(w.name, duration, err)
	if it.future != nil {
		it.future.resolve(err)
	}
}

// runTask runs task and converts a panic into a PanicError.
func runTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task()
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// goroutineID parses the current goroutine id from the runtime stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
