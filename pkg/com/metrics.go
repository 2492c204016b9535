package com

import (
	"sync/atomic"
	"time"
)

// Delivery modes used as metric labels.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// MetricsRecorder observes emissions. mode is ModeSync or ModeAsync.
type MetricsRecorder interface {
	RecordEmit(signal string, mode string, connections int)
	RecordDelivery(signal string, mode string)
	RecordSlotFailure(signal string, mode string)
	RecordEmitDuration(signal string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordEmit(string, string, int)           {}
func (nopMetrics) RecordDelivery(string, string)            {}
func (nopMetrics) RecordSlotFailure(string, string)         {}
func (nopMetrics) RecordEmitDuration(string, time.Duration) {}

type recorderBox struct{ MetricsRecorder }

var recorder atomic.Pointer[recorderBox]

// SetMetricsRecorder installs recorder for all signals of the process.
// nil restores the no-op recorder.
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
