package core

import "fmt"

// EventState tracks one event's position in the pipeline lifecycle.
type EventState string

const (
	StateAdmitted      EventState = "admitted"
	StateAnomalyScored EventState = "anomaly_scored"
	StateThreatScored  EventState = "threat_scored"
	StateCorrelated    EventState = "correlated"
	StateAlertReady    EventState = "alert_ready"
	StateAlerted       EventState = "alerted"
	StateSuppressed    EventState = "suppressed"
	StateDiscarded     EventState = "discarded"
)

// DiscardReason explains why an event reached StateDiscarded.
type DiscardReason string

const (
	// DiscardStageFailed means a stage exhausted retries with no fallback.
	DiscardStageFailed DiscardReason = "stage_failed"
	// DiscardBatchTimeout means the batch-level deadline elapsed before the
	// event reached a terminal state.
	DiscardBatchTimeout DiscardReason = "batch_timeout"
)

// validStateTransitions encodes the per-event state machine. Every state is
// terminal or advancing; Suppressed and Discarded are reachable from any
// non-terminal state, Alerted only from AlertReady.
var validStateTransitions = map[EventState][]EventState{
	StateAdmitted:      {StateAnomalyScored, StateSuppressed, StateDiscarded},
	StateAnomalyScored: {StateThreatScored, StateSuppressed, StateDiscarded},
	StateThreatScored:  {StateCorrelated, StateSuppressed, StateDiscarded},
	StateCorrelated:    {StateAlertReady, StateSuppressed, StateDiscarded},
	StateAlertReady:    {StateAlerted, StateDiscarded},
	StateAlerted:       {},
	StateSuppressed:    {},
	StateDiscarded:     {},
}

// Terminal reports whether the state admits no further transitions.
func (s EventState) Terminal() bool {
	return len(validStateTransitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to EventState) bool {
	for _, allowed := range validStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EventLifecycle is the orchestrator-owned per-event record. It is not
// safe for concurrent use; the orchestrator serializes access.
type EventLifecycle struct {
	CorrelationID CorrelationID
	State         EventState
	Reason        DiscardReason // set only in StateDiscarded
}

// NewEventLifecycle starts a lifecycle in StateAdmitted.
func NewEventLifecycle(id CorrelationID) *EventLifecycle {
	return &EventLifecycle{CorrelationID: id, State: StateAdmitted}
}

// Advance executes a validated state transition.
func (l *EventLifecycle) Advance(to EventState) error {
	if !CanTransition(l.State, to) {
		return fmt.Errorf("event %s: invalid transition %s -> %s", l.CorrelationID, l.State, to)
	}
	l.State = to
	return nil
}

// Discard moves the event to StateDiscarded with a reason.
func (l *EventLifecycle) Discard(reason DiscardReason) error {
	if err := l.Advance(StateDiscarded); err != nil {
		return err
	}
	l.Reason = reason
	return nil
}
