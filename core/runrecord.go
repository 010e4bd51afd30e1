package core

import (
	"time"
)

// StageCounts is the per-stage tally in a PipelineRunRecord.
type StageCounts struct {
	Submitted  int `json:"submitted"`
	OK         int `json:"ok"`
	Degraded   int `json:"degraded"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// PipelineRunRecord is the per-batch bookkeeping record. It is owned and
// mutated only by the orchestrator and archived once the batch drains or
// its deadline elapses.
type PipelineRunRecord struct {
	BatchID     string                     `json:"batch_id"`
	AdmittedAt  time.Time                  `json:"admitted_at"`
	EventCount  int                        `json:"event_count"`
	PerStage    map[StageKind]*StageCounts `json:"per_stage"`
	Alerted     int                        `json:"alerted"`
	Merged      int                        `json:"merged"`
	Suppressed  int                        `json:"suppressed"`
	Discarded   int                        `json:"discarded"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

// NewRunRecord creates a record for a batch of n events.
func NewRunRecord(batchID string, n int) *PipelineRunRecord {
	rec := &PipelineRunRecord{
		BatchID:    batchID,
		AdmittedAt: time.Now().UTC(),
		EventCount: n,
		PerStage:   make(map[StageKind]*StageCounts, len(Stages)),
	}
	for _, s := range Stages {
		rec.PerStage[s] = &StageCounts{}
	}
	return rec
}

// ObserveSubmission counts an item handed to a stage's client.
func (r *PipelineRunRecord) ObserveSubmission(stage StageKind) {
	r.PerStage[stage].Submitted++
}

// ObserveResult counts a stage's terminal result for one item.
func (r *PipelineRunRecord) ObserveResult(stage StageKind, status StageStatus) {
	c := r.PerStage[stage]
	switch status {
	case StatusOK:
		c.OK++
	case StatusDegraded:
		c.Degraded++
	case StatusSuppressed:
		c.Suppressed++
	case StatusFailed:
		c.Failed++
	}
}

// ObserveTerminal counts an event reaching a terminal lifecycle state.
func (r *PipelineRunRecord) ObserveTerminal(state EventState) {
	switch state {
	case StateAlerted:
		r.Alerted++
	case StateSuppressed:
		r.Suppressed++
	case StateDiscarded:
		r.Discarded++
	}
}

// Complete stamps the record. Idempotent.
func (r *PipelineRunRecord) Complete() {
	if r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
}

// Done reports whether every event in the batch reached a terminal state.
func (r *PipelineRunRecord) Done() bool {
	return r.Alerted+r.Suppressed+r.Discarded == r.EventCount
}

// Duration returns the batch wall time, or time since admission when the
// record is not yet complete.
func (r *PipelineRunRecord) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.AdmittedAt)
	}
	return time.Since(r.AdmittedAt)
}
