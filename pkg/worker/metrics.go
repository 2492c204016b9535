package worker

import (
	"sync/atomic"
	"time"
)

// MetricsRecorder observes the task queues. Tasks dropped by a stopping
// worker are reported in one call.
type MetricsRecorder interface {
	RecordTaskQueued(worker string)
	RecordTaskDone(worker string, duration time.Duration, err error)
	RecordTasksDropped(worker string, count int)
}

type nopMetrics struct{}

func (nopMetrics) RecordTaskQueued(string)                     {}
func (nopMetrics) RecordTaskDone(string, time.Duration, error) {}
func (nopMetrics) RecordTasksDropped(string, int)              {}

type recorderBox struct{ MetricsRecorder }

var recorder atomic.Pointer[recorderBox]

// SetMetricsRecorder installs the recorder shared by every worker.
func SetMetricsRecorder(r MetricsRecorder) {
	if r == nil {
		recorder.Store(nil)
		return
	}
	recorder.Store(&recorderBox{r})
}

func metricsRecorder() MetricsRecorder {
	if b := recorder.Load(); b != nil {
		return b.MetricsRecorder
	}
	return nopMetrics{}
}
