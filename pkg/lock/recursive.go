// Package lock provides the recursive read lock taken over an object graph
// before it is read, compared or serialized.
//
// The visitor takes a shared lock on the root, then walks its properties
// depth first and takes a shared lock on every object and buffer it reaches,
// once per entity. Shared sub-objects and back references are skipped.
//
// A reader that arrives after a pending writer waits for it, so two visitors
// reaching shared entities in different orders could each hold what the
// other's writer needs. Only the first acquisition of a walk blocks. Every
// later one is a try; on contention the visitor releases everything, waits
// for the contended entity to be readable and walks again. A visitor
// therefore never waits while holding a lock.
//
//	l := lock.NewRecursive(root)
//	defer l.Release()
package lock

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/IRCAD/sight-sub083/pkg/data"
)

const (
	tracerName    = "sight.lock"
	spanRecursive = "lock.recursive"
)

// Recursive holds shared locks over an object graph until released.
type Recursive struct {
	roots []data.Object

	mu       sync.Mutex
	seen     mapset.Set[data.Lockable]
	held     []data.Lockable
	released bool
	since    time.Time
	retries  int
}

// NewRecursive locks root and everything reachable from it. A nil root
// yields an empty, already usable lock.
func NewRecursive(root data.Object) *Recursive {
	r, _ := acquire(context.Background(), []data.Object{root})
	return r
}

// NewRecursiveContext is NewRecursive checking ctx between acquisitions.
// When ctx ends first, every lock taken so far is released and the context
// error is returned.
func NewRecursiveContext(ctx context.Context, root data.Object) (*Recursive, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanRecursive)
	defer span.End()
	if root != nil {
		span.SetAttributes(
			attribute.String("object.id", root.ID()),
			attribute.String("object.class", root.Classname()),
		)
	}

	r, err := acquire(ctx, []data.Object{root})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("lock.count", r.Count()),
		attribute.Int("lock.retries", r.retries),
	)
	return r, nil
}

// NewRecursiveAll locks several graphs with one visitor, so that entities
// they share are locked once.
func NewRecursiveAll(ctx context.Context, roots ...data.Object) (*Recursive, error) {
	return acquire(ctx, roots)
}

func acquire(ctx context.Context, roots []data.Object) (*Recursive, error) {
	r := &Recursive{
		seen:  mapset.NewThreadUnsafeSet[data.Lockable](),
		since: time.Now(),
	}
	for _, root := range roots {
		if root != nil {
			r.roots = append(r.roots, root)
		}
	}
	if len(r.roots) == 0 {
		return r, nil
	}

	done := false
	defer func() {
		if !done {
			r.Release()
		}
	}()
	for {
		contended, err := r.walk(ctx)
		if err != nil {
			return nil, err
		}
		if contended == nil {
			break
		}
		r.unlockHeld()
		r.retries++
		contended.RLock()
		contended.RUnlock()
	}
	done = true
	r.since = time.Now()
	metricsRecorder().RecordAcquire(r.roots[0].Classname(), len(r.held))
	return r, nil
}

// walk locks every root graph. It stops at the first entity that cannot be
// read-locked without waiting and returns it.
func (r *Recursive) walk(ctx context.Context) (data.Lockable, error) {
	for _, root := range r.roots {
		if contended, err := r.visit(ctx, root); contended != nil || err != nil {
			return contended, err
		}
	}
	return nil, nil
}

// lock takes a shared lock on l unless the walk already holds it. Only the
// first lock of a walk may block.
func (r *Recursive) lock(ctx context.Context, l data.Lockable) (fresh bool, contended data.Lockable, err error) {
	if r.seen.Contains(l) {
		return false, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	if len(r.held) == 0 {
		l.RLock()
	} else if !l.TryRLock() {
		return false, l, nil
	}
	r.seen.Add(l)
	r.held = append(r.held, l)
	return true, nil, nil
}

func (r *Recursive) visit(ctx context.Context, obj data.Object) (data.Lockable, error) {
	fresh, contended, err := r.lock(ctx, obj)
	if err != nil || contended != nil || !fresh {
		return contended, err
	}
	for _, p := range obj.Properties() {
		switch p.Kind {
		case data.KindObject:
			contended, err = r.visit(ctx, p.Object)
		case data.KindBuffer:
			_, contended, err = r.lock(ctx, p.Buffer)
		}
		if err != nil || contended != nil {
			return contended, err
		}
	}
	return nil, nil
}

// unlockHeld drops the locks of an abandoned walk, newest first.
func (r *Recursive) unlockHeld() {
	for i := len(r.held) - 1; i >= 0; i-- {
		r.held[i].RUnlock()
	}
	r.held = r.held[:0]
	r.seen.Clear()
}

// Root returns the object the lock was taken on, the first one for
// NewRecursiveAll.
func (r *Recursive) Root() data.Object {
	if len(r.roots) == 0 {
		return nil
	}
	return r.roots[0]
}

// Count returns the number of entities currently locked.
func (r *Recursive) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Locked reports whether entity is held by this lock.
func (r *Recursive) Locked(entity data.Lockable) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.released && r.seen.Contains(entity)
}

// Release unlocks everything in reverse acquisition order. Further calls do
// nothing.
func (r *Recursive) Release() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	if len(r.held) > 0 {
		metricsRecorder().RecordHold(r.roots[0].Classname(), time.Since(r.since))
	}
	r.unlockHeld()
}

// Retries returns how many times the walk was restarted because an entity
// was contended.
func (r *Recursive) Retries() int { return r.retries }

// With runs fn while root is recursively locked.
func With(root data.Object, fn func() error) error {
	r := NewRecursive(root)
	defer r.Release()
	return fn()
}

// WithContext is With built on NewRecursiveContext.
func WithContext(ctx context.Context, root data.Object, fn func() error) error {
	r, err := NewRecursiveContext(ctx, root)
	if err != nil {
		return err
	}
	defer r.Release()
	return fn()
}
