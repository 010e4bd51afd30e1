package pipeline

import (
	"sync"

	"siemfusion/core"
)

// runArchive keeps the most recent completed run records for the status
// API. Oldest records are evicted once the capacity is reached.
type runArchive struct {
	mu   sync.Mutex
	runs []*core.PipelineRunRecord
	cap  int
}

func newRunArchive(capacity int) *runArchive {
	if capacity < 1 {
		capacity = 1
	}
	return &runArchive{cap: capacity}
}

func (a *runArchive) add(rec *core.PipelineRunRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, rec)
	if len(a.runs) > a.cap {
		a.runs = a.runs[len(a.runs)-a.cap:]
	}
}

// snapshot returns the archived records, newest first.
func (a *runArchive) snapshot() []*core.PipelineRunRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*core.PipelineRunRecord, len(a.runs))
	for i, rec := range a.runs {
		out[len(a.runs)-1-i] = rec
	}
	return out
}
