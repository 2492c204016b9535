package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

func newTestWorker(t *testing.T, name string) *Worker {
	t.Helper()
	w := New(name, WithLogger(logger.Nop()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.StopAndWait(ctx)
	})
	return w
}

func noop() error { return nil }

func TestWorker_PostRunsInOrder(t *testing.T) {
	w := newTestWorker(t, "order")

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, w.Post(func() error {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, w.PostFuture(noop).Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorker_PostDoesNotBlock(t *testing.T) {
	w := newTestWorker(t, "busy")

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, w.Post(func() error {
		close(started)
		<-release
		return nil
	}))
	<-started

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = w.Post(noop)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked while the worker was busy")
	}
	assert.Equal(t, 1000, w.Pending())
	close(release)
}

func TestWorker_RunsOnItsOwnGoroutine(t *testing.T) {
	w := newTestWorker(t, "affinity")

	assert.False(t, w.IsCurrent())

	var onWorker atomic.Bool
	require.NoError(t, w.PostFuture(func() error {
		onWorker.Store(w.IsCurrent())
		return nil
	}).Wait(context.Background()))
	assert.True(t, onWorker.Load())
}

func TestWorker_StopDrainsQueuedTasks(t *testing.T) {
	w := New("drain", WithLogger(logger.Nop()))

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, w.Post(func() error {
			time.Sleep(time.Millisecond)
			count.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.StopAndWait(ctx))

	assert.EqualValues(t, 50, count.Load())
	assert.False(t, w.IsRunning())
}

func TestWorker_PostAfterStopIsRejected(t *testing.T) {
	w := New("stopped", WithLogger(logger.Nop()))
	w.Stop()
	w.Stop()

	assert.ErrorIs(t, w.Post(noop), ErrWorkerStopped)
	assert.ErrorIs(t, w.PostFuture(noop).Err(), ErrWorkerStopped)

	<-w.Done()
	assert.ErrorIs(t, w.Post(noop), ErrWorkerStopped)
	assert.False(t, w.IsRunning())
}

func TestWorker_NilTask(t *testing.T) {
	w := newTestWorker(t, "nil")
	assert.ErrorIs(t, w.Post(nil), ErrNilTask)
}

func TestWorker_TaskFailureDoesNotStopLoop(t *testing.T) {
	w := newTestWorker(t, "failing")
	boom := errors.New("boom")

	errFuture := w.PostFuture(func() error { return boom })
	panicFuture := w.PostFuture(func() error { panic("slot exploded") })

	var ran atomic.Bool
	okFuture := w.PostFuture(func() error {
		ran.Store(true)
		return nil
	})

	ctx := context.Background()
	err := errFuture.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsTaskError(err))

	err = panicFuture.Wait(ctx)
	require.Error(t, err)
	assert.True(t, IsPanicError(err))

	require.NoError(t, okFuture.Wait(ctx))
	assert.True(t, ran.Load())
	assert.EqualValues(t, 2, w.Failed())
	assert.EqualValues(t, 3, w.Processed())
}

func TestWorker_Kill(t *testing.T) {
	w := New("kill", WithLogger(logger.Nop()))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, w.Post(func() error {
		close(started)
		<-release
		return nil
	}))
	<-started

	pending := w.PostFuture(noop)
	require.NoError(t, w.Post(noop))

	assert.Equal(t, 2, w.Kill())
	close(release)

	<-w.Done()
	assert.ErrorIs(t, pending.Err(), ErrTaskDropped)
	assert.ErrorIs(t, w.Post(noop), ErrWorkerStopped)
}

func TestWorker_StopAndWaitFromOwnTask(t *testing.T) {
	w := newTestWorker(t, "self")

	var waitErr error
	require.NoError(t, w.PostFuture(func() error {
		waitErr = w.StopAndWait(context.Background())
		return nil
	}).Wait(context.Background()))
	assert.Error(t, waitErr)
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	w := newTestWorker(t, "slow")

	release := make(chan struct{})
	f := w.PostFuture(func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
	assert.Nil(t, f.Err())

	close(release)
	assert.NoError(t, f.Wait(context.Background()))
}

func TestResolved(t *testing.T) {
	f := Resolved(ErrWorkerStopped)
	select {
	case <-f.Done():
	default:
		t.Fatal("resolved future should be done")
	}
	assert.ErrorIs(t, f.Err(), ErrWorkerStopped)
}

// Tasks posted by one goroutine run in posting order, whatever else races in.
func TestWorker_FIFOPerSource(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sources := rapid.IntRange(1, 4).Draw(rt, "sources")
		perSource := rapid.IntRange(1, 40).Draw(rt, "perSource")

		w := New("fifo", WithLogger(logger.Nop()))
		defer func() { _ = w.StopAndWait(context.Background()) }()

		var (
			mu  sync.Mutex
			got = make([][]int, sources)
			wg  sync.WaitGroup
		)
		for s := 0; s < sources; s++ {
			wg.Add(1)
			go func(s int) {
				defer wg.Done()
				for i := 0; i < perSource; i++ {
					i := i
					_ = w.Post(func() error {
						mu.Lock()
						got[s] = append(got[s], i)
						mu.Unlock()
						return nil
					})
				}
			}(s)
		}
		wg.Wait()
		if err := w.PostFuture(noop).Wait(context.Background()); err != nil {
			rt.Fatalf("drain failed: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		for s := range got {
			if len(got[s]) != perSource {
				rt.Fatalf("source %d: got %d tasks, want %d", s, len(got[s]), perSource)
			}
			for i, v := range got[s] {
				if v != i {
					rt.Fatalf("source %d: task %d ran at position %d", s, v, i)
				}
			}
		}
	})
}
