package service

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

type viewer struct {
	*Base
	updates atomic.Int32
}

func newViewer(t *testing.T, r *registry.Registry, opts ...Option) *viewer {
	t.Helper()
	v := &viewer{}
	opts = append([]Option{
		WithLogger(logger.Nop()),
		WithRegistry(r),
		WithAutoConnections(com.AutoConnections{}.Push("image", data.SignalModified, "update")),
	}, opts...)
	v.Base = NewBase("sight::module::Viewer", opts...)
	v.SetOwner(v)
	com.AddSlot(v.Slots(), "update", func(com.Empty) error {
		v.updates.Add(1)
		return nil
	})
	return v
}

func TestBase_StartStop(t *testing.T) {
	r := registry.New(registry.WithLogger(logger.Nop()))
	img := data.NewImage()
	v := newViewer(t, r)

	require.NoError(t, v.Start(map[string]com.HasSignals{"image": img}))
	assert.True(t, v.IsStarted())
	assert.True(t, r.HasService(v))
	assert.Equal(t, []*viewer{v}, registry.ServicesOf[*viewer](r))
	assert.Equal(t, 1, v.Connections().Len())
	assert.ErrorIs(t, v.Start(nil), ErrAlreadyStarted)

	require.NoError(t, img.Modified().Emit(com.Empty{}))
	assert.EqualValues(t, 1, v.updates.Load())

	require.NoError(t, v.SetOutput("snapshot", data.NewFloat(1)))
	require.NoError(t, v.Stop())
	assert.False(t, v.IsStarted())
	assert.False(t, r.HasService(v))
	assert.Empty(t, r.Outputs(v))
	assert.Nil(t, v.Connections())
	assert.Zero(t, img.Modified().NumConnections())

	require.NoError(t, v.Stop())
}

func TestBase_StartReportsConfigurationErrors(t *testing.T) {
	r := registry.New(registry.WithLogger(logger.Nop()))
	v := newViewer(t, r)
	v.AutoConnections().Push("image", "missing_signal", "update")

	err := v.Start(map[string]com.HasSignals{"image": data.NewImage()})
	assert.True(t, com.IsConfigurationError(err))
	assert.True(t, v.IsStarted())
	assert.Equal(t, 1, v.Connections().Len())
	require.NoError(t, v.Stop())
}

func TestBase_SlotsRunOnWorker(t *testing.T) {
	w := worker.New("viewer", worker.WithLogger(logger.Nop()))
	defer func() { _ = w.StopAndWait(context.Background()) }()

	r := registry.New(registry.WithLogger(logger.Nop()))
	img := data.NewImage()
	v := newViewer(t, r, WithWorker(w))
	require.NoError(t, v.Start(map[string]com.HasSignals{"image": img}))
	defer func() { _ = v.Stop() }()

	assert.Same(t, w, v.Worker())
	img.Modified().AsyncEmit(com.Empty{})
	require.NoError(t, w.PostFuture(func() error { return nil }).Wait(context.Background()))
	assert.EqualValues(t, 1, v.updates.Load())
}

func TestBase_BlockSuppressesSelfEcho(t *testing.T) {
	r := registry.New(registry.WithLogger(logger.Nop()))
	img := data.NewImage()
	v := newViewer(t, r)
	require.NoError(t, v.Start(map[string]com.HasSignals{"image": img}))
	defer func() { _ = v.Stop() }()

	b := v.Block()
	img.Modified().AsyncEmit(com.Empty{})
	b.Unblock()
	assert.Zero(t, v.updates.Load())

	img.Modified().AsyncEmit(com.Empty{})
	assert.EqualValues(t, 1, v.updates.Load())

	stopped := newViewer(t, r)
	stopped.Block().Unblock()
}

func TestBase_Outputs(t *testing.T) {
	r := registry.New(registry.WithLogger(logger.Nop()))
	v := newViewer(t, r)
	first, second := data.NewImage(), data.NewImage()

	require.NoError(t, v.SetOutput("image", first))
	require.NoError(t, v.SetOutput("image", second))
	got, ok := v.Output("image")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.False(t, r.IsRegistered(first))

	require.NoError(t, v.SetOutput("series", first, 0))
	require.NoError(t, v.ClearOutput("series", 0))
	assert.True(t, registry.IsNotFoundError(v.ClearOutput("series", 0)))

	require.NoError(t, v.SetOutput("image", nil))
	_, ok = v.Output("image")
	assert.False(t, ok)
}

func TestBase_KeepsPublishedOutputsAlive(t *testing.T) {
	r := registry.New(registry.WithLogger(logger.Nop()))
	v := newViewer(t, r)
	require.NoError(t, v.SetOutput("value", data.NewFloat(4)))

	for range 3 {
		runtime.GC()
	}
	got, ok := r.Output("value", v)
	require.True(t, ok)
	assert.Equal(t, data.ClassFloat, got.Classname())
	services, objects := r.Len()
	assert.Equal(t, 1, services)
	assert.Equal(t, 1, objects)
}

func TestBase_DefaultsToProcessRegistry(t *testing.T) {
	registry.Teardown()
	defer registry.Teardown()

	b := NewBase("sight::module::Reader", WithLogger(logger.Nop()))
	assert.Same(t, registry.Get(), b.Registry())
	assert.NotEmpty(t, b.ID())
	assert.Equal(t, "sight::module::Reader", b.Classname())
}
