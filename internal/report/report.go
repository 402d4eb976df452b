// Package report is the out-of-band error sink. Advisory failures
// (dropped notifications, background worker errors) are captured here
// instead of being propagated; capture never blocks or alters control
// flow.
package report

import (
	"log/slog"
	"sync"
)

// Reporter accepts an error and a human-readable context string.
type Reporter interface {
	Capture(err error, context string)
}

// LogReporter reports captured errors through slog.
type LogReporter struct{}

// Capture implements Reporter.
func (LogReporter) Capture(err error, context string) {
	slog.Error("captured error", "context", context, "error", err)
}

// Captured is one recorded error, used by the Recorder test fake.
type Captured struct {
	Err     error
	Context string
}

// Recorder is a Reporter that records captures for inspection.
// Safe for concurrent use; intended for tests.
type Recorder struct {
	mu       sync.Mutex
	captured []Captured
}

// Capture implements Reporter.
func (r *Recorder) Capture(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, Captured{Err: err, Context: context})
}

// All returns a copy of everything captured so far.
func (r *Recorder) All() []Captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Captured, len(r.captured))
	copy(out, r.captured)
	return out
}

// Len returns the number of captures so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captured)
}
