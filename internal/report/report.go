// Package report forwards flow failures to an error sink without blocking
// the flow that raised them.
package report

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/metrics"
)

// Level is a report severity.
type Level string

const (
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Report is one reported problem. Context carries the account keys and
// amounts needed to debug it.
type Report struct {
	Level   Level
	Err     error
	Context map[string]any
}

// Reporter accepts reports. Report must return immediately.
type Reporter interface {
	Report(Report)
}

// Discard drops every report.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Report) {}

// AsyncReporter buffers reports and writes them from a background goroutine.
// When the buffer is full the report is dropped.
type AsyncReporter struct {
	queue chan Report
	once  sync.Once
	done  chan struct{}
}

// NewAsyncReporter creates a reporter with config.ReporterBuffer slots.
func NewAsyncReporter() *AsyncReporter {
	return &AsyncReporter{
		queue: make(chan Report, config.ReporterBuffer),
		done:  make(chan struct{}),
	}
}

// Report implements Reporter.
func (r *AsyncReporter) Report(rep Report) {
	if rep.Level == "" {
		rep.Level = LevelError
	}
	select {
	case r.queue <- rep:
	default:
		metrics.ReportsTotal.WithLabelValues("dropped").Inc()
		slog.Warn("error report dropped, queue full", "error", rep.Err)
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *AsyncReporter) Run(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })
	for {
		select {
		case rep := <-r.queue:
			r.write(rep)
		case <-ctx.Done():
			for {
				select {
				case rep := <-r.queue:
					r.write(rep)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *AsyncReporter) Done() <-chan struct{} { return r.done }

func (r *AsyncReporter) write(rep Report) {
	metrics.ReportsTotal.WithLabelValues(string(rep.Level)).Inc()

	attrs := make([]any, 0, 2+2*len(rep.Context))
	attrs = append(attrs, "error", rep.Err)
	for k, v := range rep.Context {
		attrs = append(attrs, k, v)
	}

	if rep.Level == LevelWarn {
		slog.Warn("flow problem reported", attrs...)
		return
	}
	slog.Error("flow error reported", attrs...)
}

// Recorder keeps reports in memory.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

// Reports returns a copy of what was reported.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}
