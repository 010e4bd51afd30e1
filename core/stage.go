package core

// CorrelationID threads one event through all four analysis stages. It is
// assigned at batch admission and never reassigned.
type CorrelationID string

// StageKind identifies one of the four ordered analysis stages.
type StageKind string

const (
	StageAnomaly     StageKind = "anomaly"
	StageThreat      StageKind = "threat"
	StageCorrelation StageKind = "correlation"
	StageAlertGen    StageKind = "alert_gen"
)

// Stages lists the stage kinds in pipeline order.
var Stages = []StageKind{StageAnomaly, StageThreat, StageCorrelation, StageAlertGen}

// String returns the string representation.
func (s StageKind) String() string {
	return string(s)
}

// Next returns the stage following s, or "" for the last stage.
func (s StageKind) Next() StageKind {
	for i, k := range Stages {
		if k == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return ""
}

// StageStatus is the terminal status of one stage for one event.
type StageStatus string

const (
	// StatusOK means the stage produced a payload normally.
	StatusOK StageStatus = "ok"
	// StatusSuppressed means the event was deliberately dropped before or
	// at this stage; it carries neither payload nor error.
	StatusSuppressed StageStatus = "suppressed"
	// StatusFailed means retries were exhausted and no fallback existed.
	StatusFailed StageStatus = "failed"
	// StatusDegraded means the payload came from the stage's fallback
	// projection after retries failed; confidence is reduced.
	StatusDegraded StageStatus = "degraded"
)

// StageResult pairs one event's correlation id with the outcome of one
// stage. The payload pointers accumulate as the event moves forward, so a
// stage-3 result still carries the stage-1 and stage-2 payloads.
//
// Invariant: exactly one of payload (OK/Degraded) or Err (Failed) is set;
// Suppressed results carry neither.
type StageResult struct {
	CorrelationID CorrelationID
	Stage         StageKind
	Status        StageStatus
	Event         *Event

	Anomaly     *AnomalyResult
	Threat      *ThreatResult
	Correlation *CorrelationResult
	Draft       *AlertDraft

	// Confidence is the stage's self-reported confidence in [0,1].
	Confidence float64

	// Err is set only for Failed results.
	ErrKind ErrorKind
	ErrMsg  string

	// SuppressReason is set only for Suppressed results.
	SuppressReason string
}

// Advanceable reports whether the next stage should submit this item to
// its client. Suppressed and Failed results are passed through unchanged.
func (r *StageResult) Advanceable() bool {
	return r.Status == StatusOK || r.Status == StatusDegraded
}

// okClone copies r forward into a new result for the given stage,
// preserving the accumulated payloads.
func (r *StageResult) okClone(stage StageKind) *StageResult {
	return &StageResult{
		CorrelationID: r.CorrelationID,
		Stage:         stage,
		Status:        StatusOK,
		Event:         r.Event,
		Anomaly:       r.Anomaly,
		Threat:        r.Threat,
		Correlation:   r.Correlation,
		Draft:         r.Draft,
		Confidence:    r.Confidence,
	}
}

// OkResult derives a successful result for stage from the predecessor.
func (r *StageResult) OkResult(stage StageKind, confidence float64) *StageResult {
	out := r.okClone(stage)
	out.Confidence = ClampScore(confidence)
	return out
}

// DegradedResult derives a fallback result for stage from the predecessor.
func (r *StageResult) DegradedResult(stage StageKind, confidence float64) *StageResult {
	out := r.okClone(stage)
	out.Status = StatusDegraded
	out.Confidence = ClampScore(confidence)
	return out
}

// FailedResult derives a failed result for stage from the predecessor.
// Payloads from earlier stages are kept for logging context.
func (r *StageResult) FailedResult(stage StageKind, kind ErrorKind, msg string) *StageResult {
	out := r.okClone(stage)
	out.Status = StatusFailed
	out.Confidence = 0
	out.ErrKind = kind
	out.ErrMsg = msg
	return out
}

// SuppressedResult derives a suppressed result for stage from the
// predecessor. Payloads are dropped per the StageResult invariant.
func (r *StageResult) SuppressedResult(stage StageKind, reason string) *StageResult {
	return &StageResult{
		CorrelationID:  r.CorrelationID,
		Stage:          stage,
		Status:         StatusSuppressed,
		Event:          r.Event,
		SuppressReason: reason,
	}
}

// Admit wraps a freshly admitted event into a pseudo-result so the first
// stage runner can treat admission like any predecessor output.
func Admit(event *Event) *StageResult {
	return &StageResult{
		CorrelationID: CorrelationID(event.EventID),
		Status:        StatusOK,
		Event:         event,
		Confidence:    1,
	}
}

// ClampScore bounds a score or confidence value to [0,1].
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
