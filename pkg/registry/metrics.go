package registry

import "sync/atomic"

// Mutation names used as metric labels.
const (
	OpRegisterService         = "register_service"
	OpRegisterServiceOutput   = "register_output"
	OpUnregisterService       = "unregister_service"
	OpUnregisterServiceOutput = "unregister_output"
)

// MetricsRecorder observes registry mutations and its size after each one.
type MetricsRecorder interface {
	RecordMutation(op string, err error)
	SetEntries(services, objects int)
}

type nopMetrics struct{}

func (nopMetrics) RecordMutation(string, error) {}
func (nopMetrics) SetEntries(int, int)          {}

type recorderBox struct{ MetricsRecorder }

var recorder atomic.Pointer[recorderBox]

// SetMetricsRecorder installs recorder. nil turns reporting off.
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
