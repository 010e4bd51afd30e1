// Package stage implements the analysis-stage execution layer: the
// uniform client boundary to the external analysis service, the retry
// policy wrapped around it, and the per-batch fan-out runner.
package stage

import (
	"context"
	"errors"
	"fmt"

	"siemfusion/core"
)

// Request is the typed input to one stage client call. It carries the
// event plus every payload accumulated by earlier stages, so a stage can
// reason over its predecessors' findings.
type Request struct {
	CorrelationID core.CorrelationID      `json:"correlation_id"`
	Stage         core.StageKind          `json:"stage"`
	Event         *core.Event             `json:"event"`
	Anomaly       *core.AnomalyResult     `json:"anomaly,omitempty"`
	Threat        *core.ThreatResult      `json:"threat,omitempty"`
	Correlation   *core.CorrelationResult `json:"correlation,omitempty"`
}

// Response is the typed output of one stage client call. Exactly one
// payload pointer is set, matching the requested stage.
type Response struct {
	Anomaly     *core.AnomalyResult     `json:"anomaly,omitempty"`
	Threat      *core.ThreatResult      `json:"threat,omitempty"`
	Correlation *core.CorrelationResult `json:"correlation,omitempty"`
	Draft       *core.AlertDraft        `json:"draft,omitempty"`
	Confidence  float64                 `json:"confidence"`
}

// Validate checks that the response carries the payload its stage
// promised. A violation is classified as KindInvalidInput by the caller.
func (r *Response) Validate(kind core.StageKind) error {
	var ok bool
	switch kind {
	case core.StageAnomaly:
		ok = r.Anomaly != nil
	case core.StageThreat:
		ok = r.Threat != nil
	case core.StageCorrelation:
		ok = r.Correlation != nil
	case core.StageAlertGen:
		ok = r.Draft != nil
	}
	if !ok {
		return fmt.Errorf("stage %s response missing payload", kind)
	}
	return nil
}

// Client is the uniform boundary to an external analysis call. Invoke must
// honor ctx's deadline, be safe for concurrent use, and return errors
// already classified via *Error (anything unclassified is treated as
// KindUnknown).
type Client interface {
	Invoke(ctx context.Context, kind core.StageKind, req *Request) (*Response, error)
}

// Error is a classified stage-client failure.
type Error struct {
	Kind core.ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an explicit kind.
func NewError(kind core.ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from a stage-client error. Context
// cancellation and deadline expiry map to KindTimeout; anything without a
// classification is KindUnknown.
func KindOf(err error) core.ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.KindTimeout
	}
	return core.KindUnknown
}
