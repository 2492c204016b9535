package main

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/lock"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/service"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

const (
	demoImageSide = 64
	demoInterval  = time.Second
)

// imageGenerator publishes an image and rewrites its buffer on every tick.
type imageGenerator struct {
	*service.Base
	worker *worker.Worker
	image  *data.Image
	frame  byte
}

func newImageGenerator(reg *registry.Registry, w *worker.Worker, log logger.Logger) (*imageGenerator, error) {
	g := &imageGenerator{worker: w, image: data.NewImage()}
	g.Base = service.NewBase("sight::module::io::ImageGenerator",
		service.WithLogger(log),
		service.WithRegistry(reg),
		service.WithWorker(w),
	)
	g.SetOwner(g)
	if err := g.image.Resize(data.Size{demoImageSide, demoImageSide, 1}, 1); err != nil {
		return nil, err
	}
	return g, nil
}

// tick writes the next frame on the generator worker. Observers bound to
// other workers are notified asynchronously.
func (g *imageGenerator) tick() error {
	return g.worker.Post(func() error {
		g.frame++
		g.image.Buffer().Fill(g.frame)
		g.image.BufferModified().AsyncEmit(com.Empty{})
		return nil
	})
}

// imageStatistics keeps the mean intensity of its input image as output.
type imageStatistics struct {
	*service.Base
	log   logger.Logger
	image *data.Image
	mean  *data.Float
}

func newImageStatistics(reg *registry.Registry, w *worker.Worker, log logger.Logger, img *data.Image) *imageStatistics {
	s := &imageStatistics{log: log, image: img, mean: data.NewFloat(0)}
	s.Base = service.NewBase("sight::module::filter::ImageStatistics",
		service.WithLogger(log),
		service.WithRegistry(reg),
		service.WithWorker(w),
		service.WithAutoConnections(com.AutoConnections{}.
			Push("image", data.SignalBufferModified, "compute").
			Push("image", data.SignalModified, "compute")),
	)
	s.SetOwner(s)
	com.AddSlot(s.Slots(), "compute", func(com.Empty) error { return s.compute(context.Background()) })
	return s
}

func (s *imageStatistics) compute(ctx context.Context) error {
	l, err := lock.NewRecursiveContext(ctx, s.image)
	if err != nil {
		return err
	}
	buf := s.image.Buffer().Data()
	var sum float64
	for _, v := range buf {
		sum += float64(v)
	}
	l.Release()

	mean := 0.0
	if len(buf) > 0 {
		mean = sum / float64(len(buf))
	}
	s.mean.Set(mean)
	s.log.Debug("Image statistics updated", "mean", mean, "voxels", len(buf))
	return s.mean.Modified().Emit(com.Empty{})
}

// demoPipeline runs a generator feeding a statistics service.
type demoPipeline struct {
	generator *imageGenerator
	stats     *imageStatistics
	cancel    context.CancelFunc
	done      chan struct{}
}

func (a *app) startDemo(ctx context.Context) error {
	log := logger.OrComponent(a.log, "demo")
	gen, err := newImageGenerator(a.registry, a.workers.Get("io"), log)
	if err != nil {
		return err
	}
	stats := newImageStatistics(a.registry, a.workers.Get("compute"), log, gen.image)

	if err := gen.Start(nil); err != nil {
		return err
	}
	if err := gen.SetOutput("image", gen.image); err != nil {
		return multierr.Append(err, gen.Stop())
	}
	if err := stats.Start(map[string]com.HasSignals{"image": gen.image}); err != nil {
		return multierr.Append(err, gen.Stop())
	}
	if err := stats.SetOutput("mean", stats.mean); err != nil {
		return multierr.Combine(err, stats.Stop(), gen.Stop())
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &demoPipeline{generator: gen, stats: stats, cancel: cancel, done: make(chan struct{})}
	go p.loop(ctx, log)
	a.demo = p

	log.Info("Demo pipeline started", "image", gen.image.ID(), "mean", stats.mean.ID())
	return nil
}

func (p *demoPipeline) loop(ctx context.Context, log logger.Logger) {
	defer close(p.done)
	ticker := time.NewTicker(demoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.generator.tick(); err != nil {
				log.Warn("Demo tick failed", "error", err)
				return
			}
		}
	}
}

func (p *demoPipeline) stop() error {
	p.cancel()
	<-p.done
	return multierr.Append(p.stats.Stop(), p.generator.Stop())
}
