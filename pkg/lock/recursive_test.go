package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub083/pkg/data"
)

// node is an object whose properties are set by the test and which counts
// shared lock acquisitions.
type node struct {
	*data.Base

	rlocks atomic.Int32
	props  []data.Property
	panics bool
}

func newNode(props ...data.Property) *node {
	return &node{Base: data.NewBase("test::Node"), props: props}
}

func (n *node) RLock() {
	n.rlocks.Add(1)
	n.Base.RLock()
}

func (n *node) TryRLock() bool {
	if !n.Base.TryRLock() {
		return false
	}
	n.rlocks.Add(1)
	return true
}

func (n *node) Properties() []data.Property {
	if n.panics {
		panic("broken reflection")
	}
	return n.props
}

// countdownContext reports cancellation after a number of Err calls.
type countdownContext struct {
	context.Context
	left atomic.Int32
}

func (c *countdownContext) Err() error {
	if c.left.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func assertUnlocked(t *testing.T, objs ...data.Lockable) {
	t.Helper()
	for _, o := range objs {
		l, ok := o.(interface {
			TryLock() bool
			Unlock()
		})
		require.True(t, ok)
		if assert.True(t, l.TryLock(), "entity still locked") {
			l.Unlock()
		}
	}
}

func TestRecursive_SharedSubObjectLockedOnce(t *testing.T) {
	shared := newNode(data.Scalar("label", "liver"))
	vec := newNode(data.ObjectRef("0", shared))
	root := newNode(
		data.ObjectRef("a", shared),
		data.ObjectRef("b", vec),
	)

	l := NewRecursive(root)
	assert.Equal(t, 3, l.Count())
	assert.EqualValues(t, 1, shared.rlocks.Load())
	assert.EqualValues(t, 1, root.rlocks.Load())
	assert.True(t, l.Locked(shared))
	assert.Same(t, root, l.Root().(*node))

	l.Release()
	l.Release()
	assert.Zero(t, l.Count())
	assert.False(t, l.Locked(shared))
	assertUnlocked(t, root, vec, shared)
}

func TestRecursive_BackReferences(t *testing.T) {
	root := newNode()
	child := newNode(data.ObjectRef("parent", root))
	root.props = []data.Property{data.ObjectRef("child", child), data.ObjectRef("self", root)}

	l := NewRecursive(root)
	defer l.Release()
	assert.Equal(t, 2, l.Count())
	assert.EqualValues(t, 1, root.rlocks.Load())
}

func TestRecursive_SharedBufferLockedOnce(t *testing.T) {
	buf := data.NewBuffer(16)
	a := newNode(data.BufferRef("pixels", buf))
	b := newNode(data.BufferRef("pixels", buf))
	root := newNode(data.ObjectRef("a", a), data.ObjectRef("b", b))

	l := NewRecursive(root)
	assert.Equal(t, 4, l.Count())
	assert.True(t, l.Locked(buf))
	assert.False(t, buf.TryLock(), "buffer must be read-locked")
	l.Release()
	assertUnlocked(t, buf)
}

func TestRecursive_RealObjects(t *testing.T) {
	img := data.NewImage()
	require.NoError(t, img.Resize(data.Size{2, 2, 1}, 1))
	comp := data.NewComposite()
	comp.Set("image", img)
	comp.Set("threshold", data.NewFloat(0.5))
	vec := data.NewVector()
	vec.Append(img, comp)
	comp.Set("series", vec)

	err := With(comp, func() error {
		assert.False(t, img.TryLock())
		assert.False(t, img.Buffer().TryLock())
		return nil
	})
	require.NoError(t, err)
	assertUnlocked(t, comp, img, img.Buffer(), vec)
}

func TestRecursive_NilRoot(t *testing.T) {
	l := NewRecursive(nil)
	assert.Zero(t, l.Count())
	l.Release()

	var nilLock *Recursive
	nilLock.Release()
}

func TestRecursive_ConcurrentReadersAndWriter(t *testing.T) {
	shared := newNode()
	left := newNode(data.ObjectRef("x", shared))
	right := newNode(data.ObjectRef("x", shared))

	first := NewRecursive(left)

	secondCh := make(chan *Recursive)
	go func() { secondCh <- NewRecursive(right) }()

	var second *Recursive
	select {
	case second = <-secondCh:
	case <-time.After(2 * time.Second):
		t.Fatal("second visitor blocked behind the first")
	}

	var wrote atomic.Bool
	writerDone := make(chan struct{})
	go func() {
		shared.Lock()
		wrote.Store(true)
		shared.Unlock()
		close(writerDone)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, wrote.Load(), "writer ran while readers held the graph")

	first.Release()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, wrote.Load(), "writer ran while one reader still held the graph")

	second.Release()
	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired the lock")
	}
}

func TestRecursive_ManyConcurrentVisitors(t *testing.T) {
	shared := newNode(data.BufferRef("buf", data.NewBuffer(8)))
	roots := make([]*node, 8)
	for i := range roots {
		roots[i] = newNode(data.ObjectRef("shared", shared))
	}

	var wg sync.WaitGroup
	for _, root := range roots {
		wg.Add(1)
		go func(root *node) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = With(root, func() error { return nil })
			}
		}(root)
	}
	wg.Wait()
	assertUnlocked(t, shared)
}

func TestNewRecursiveContext_Cancelled(t *testing.T) {
	root := newNode(data.ObjectRef("child", newNode()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l, err := NewRecursiveContext(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, l)
	assertUnlocked(t, root)
}

func TestNewRecursiveContext_AbortReleasesPartialLocks(t *testing.T) {
	c := newNode()
	b := newNode(data.ObjectRef("c", c))
	a := newNode(data.ObjectRef("b", b))

	ctx := &countdownContext{Context: context.Background()}
	ctx.left.Store(2)

	_, err := NewRecursiveContext(ctx, a)
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, b.rlocks.Load())
	assert.Zero(t, c.rlocks.Load())
	assertUnlocked(t, a, b, c)
}

func TestNewRecursiveContext(t *testing.T) {
	root := newNode(data.ObjectRef("child", newNode()))
	l, err := NewRecursiveContext(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Count())
	l.Release()
}

func TestRecursive_PanicReleasesLocks(t *testing.T) {
	broken := newNode()
	broken.panics = true
	root := newNode(data.ObjectRef("broken", broken))

	assert.Panics(t, func() { NewRecursive(root) })
	assertUnlocked(t, root, broken)
}

func TestWith(t *testing.T) {
	root := newNode()
	boom := errors.New("boom")

	assert.ErrorIs(t, With(root, func() error { return boom }), boom)
	assertUnlocked(t, root)

	assert.Panics(t, func() {
		_ = With(root, func() error { panic("reader exploded") })
	})
	assertUnlocked(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := WithContext(ctx, root, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	require.NoError(t, WithContext(context.Background(), root, func() error { return nil }))
}

func TestNewRecursiveAll_SharedEntitiesLockedOnce(t *testing.T) {
	shared := newNode()
	a := newNode(data.ObjectRef("x", shared))
	b := newNode(data.ObjectRef("x", shared))

	l, err := NewRecursiveAll(context.Background(), a, nil, b, a)
	require.NoError(t, err)
	assert.Equal(t, 3, l.Count())
	assert.EqualValues(t, 1, shared.rlocks.Load())
	assert.EqualValues(t, 1, a.rlocks.Load())
	assert.Same(t, a, l.Root().(*node))
	l.Release()
	assertUnlocked(t, a, b, shared)

	empty, err := NewRecursiveAll(context.Background())
	require.NoError(t, err)
	assert.Nil(t, empty.Root())
}

// A visitor that meets an entity with a pending writer lets go of what it
// holds before waiting, then walks again.
func TestRecursive_BacksOffBehindPendingWriter(t *testing.T) {
	child := newNode()
	root := newNode(data.ObjectRef("child", child))

	child.Base.RLock()
	writerDone := make(chan struct{})
	go func() {
		child.Lock()
		child.Unlock()
		close(writerDone)
	}()
	time.Sleep(50 * time.Millisecond) // writer is now queued on child

	visitor := make(chan *Recursive)
	go func() { visitor <- NewRecursive(root) }()
	time.Sleep(50 * time.Millisecond)

	if assert.True(t, root.TryLock(), "visitor waits while holding the root") {
		root.Unlock()
	}

	child.Base.RUnlock()
	<-writerDone
	select {
	case l := <-visitor:
		assert.Equal(t, 2, l.Count())
		assert.GreaterOrEqual(t, l.Retries(), 1)
		l.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("visitor never completed")
	}
	assertUnlocked(t, root, child)
}

// Visitors walking shared entities in opposite orders, with writers queued
// on those entities, all complete.
func TestRecursive_OppositeOrdersWithWriters(t *testing.T) {
	a, b := newNode(), newNode()
	left := newNode(data.ObjectRef("1", a), data.ObjectRef("2", b))
	right := newNode(data.ObjectRef("1", b), data.ObjectRef("2", a))

	stop := make(chan struct{})
	var writers sync.WaitGroup
	for _, n := range []*node{a, b} {
		writers.Add(1)
		go func(n *node) {
			defer writers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n.Lock()
				n.Unlock()
			}
		}(n)
	}

	var visitors sync.WaitGroup
	visit := func(fn func()) {
		visitors.Add(1)
		go func() {
			defer visitors.Done()
			for range 200 {
				fn()
			}
		}()
	}
	ctx := context.Background()
	visit(func() { l, _ := NewRecursiveAll(ctx, a, b); l.Release() })
	visit(func() { l, _ := NewRecursiveAll(ctx, b, a); l.Release() })
	visit(func() { NewRecursive(left).Release() })
	visit(func() { NewRecursive(right).Release() })

	done := make(chan struct{})
	go func() { visitors.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("visitors deadlocked")
	}
	close(stop)
	writers.Wait()
	assertUnlocked(t, a, b, left, right)
}
