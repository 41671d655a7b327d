package metrics

import "time"

// ResultLabel enumerates download result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultMismatch ResultLabel = "checksum_mismatch"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for the boot sequence. Implementations
// may forward to Prometheus; NoopRecorder is used when metrics are not configured.
type Recorder interface {
	IncBootOutcome(outcome string)
	ObserveResolveDuration(d time.Duration)
	IncDownloadResult(result ResultLabel)
	AddDownloadedBytes(n int64)
	IncDownloadRetry()
	IncRestartRequested()
	IncDependencyConflict(id string)
	SetPendingUpdate(pending bool)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncBootOutcome(string)                {}
func (NoopRecorder) ObserveResolveDuration(time.Duration) {}
func (NoopRecorder) IncDownloadResult(ResultLabel)        {}
func (NoopRecorder) AddDownloadedBytes(int64)             {}
func (NoopRecorder) IncDownloadRetry()                    {}
func (NoopRecorder) IncRestartRequested()                 {}
func (NoopRecorder) IncDependencyConflict(string)         {}
func (NoopRecorder) SetPendingUpdate(bool)                {}
