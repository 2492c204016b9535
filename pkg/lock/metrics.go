package lock

import (
	"sync/atomic"
	"time"
)

// MetricsRecorder observes recursive lock acquisitions. class is the root
// object class; entities counts the locks taken.
type MetricsRecorder interface {
	RecordAcquire(class string, entities int)
	RecordHold(class string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAcquire(string, int)        {}
func (nopMetrics) RecordHold(string, time.Duration) {}

// recorderBox lets atomic.Pointer hold an interface value.
type recorderBox struct{ MetricsRecorder }

var recorder atomic.Pointer[recorderBox]

// SetMetricsRecorder reports lock acquisitions to recorder. nil disables
// reporting.
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
