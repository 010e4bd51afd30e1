package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity of a finalized alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for merge comparisons; higher is worse.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the defined levels.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Worse reports whether s ranks above other.
func (s Severity) Worse(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// AlertStatus represents the triage status of an alert.
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// IsValid checks if the status is valid.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusNew, AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive:
		return true
	default:
		return false
	}
}

// validAlertTransitions defines allowed triage transitions.
var validAlertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusNew:           {AlertStatusInvestigating, AlertStatusResolved, AlertStatusFalsePositive},
	AlertStatusInvestigating: {AlertStatusResolved, AlertStatusFalsePositive},
	AlertStatusResolved:      {},
	AlertStatusFalsePositive: {},
}

// AlertEntities collects the concrete entities an alert refers to.
type AlertEntities struct {
	IPs       []string `json:"ips,omitempty"`
	Users     []string `json:"users,omitempty"`
	Processes []string `json:"processes,omitempty"`
	Files     []string `json:"files,omitempty"`
	Hosts     []string `json:"hosts,omitempty"`
}

// Merge folds other's entities into e, dropping duplicates.
func (e *AlertEntities) Merge(other AlertEntities) {
	e.IPs = appendUnique(e.IPs, other.IPs...)
	e.Users = appendUnique(e.Users, other.Users...)
	e.Processes = appendUnique(e.Processes, other.Processes...)
	e.Files = appendUnique(e.Files, other.Files...)
	e.Hosts = appendUnique(e.Hosts, other.Hosts...)
}

// Alert is a finalized, enriched alert ready for the sink.
type Alert struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	Severity           Severity        `json:"severity"`
	Score              float64         `json:"score"`
	Confidence         float64         `json:"confidence"`
	SourceEventIDs     []CorrelationID `json:"source_event_ids"`
	Entities           AlertEntities   `json:"entities"`
	AttackVector       string          `json:"attack_vector,omitempty"`
	MitreTechniques    []string        `json:"mitre_techniques,omitempty"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	Status             AlertStatus     `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Fingerprint keys the dedup index; derived from sorted indicators.
	Fingerprint string `json:"fingerprint,omitempty"`
	// Indicators are the merged anomaly indicators + matched IOCs used for
	// overlap checks when merging correlated events into one alert.
	Indicators []string `json:"indicators,omitempty"`
	// DuplicateCount tracks how many events merged into this alert beyond
	// the first.
	DuplicateCount int `json:"duplicate_count"`
}

// NewAlert creates an alert in status New with a generated UUID.
func NewAlert(title string, severity Severity, sourceID CorrelationID) (*Alert, error) {
	if title == "" {
		return nil, errors.New("alert title cannot be empty")
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("invalid severity: %s", severity)
	}
	now := time.Now().UTC()
	return &Alert{
		ID:             uuid.New().String(),
		Title:          title,
		Severity:       severity,
		SourceEventIDs: []CorrelationID{sourceID},
		Status:         AlertStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// TransitionTo validates and executes a triage status transition.
func (a *Alert) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}
	allowed, exists := validAlertTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current status: %s", a.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			a.Status = newStatus
			a.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid transition: %s -> %s (allowed: %v)", a.Status, newStatus, allowed)
}

// AbsorbEvent merges another correlated event into an existing open alert.
// The caller holds the dedup index lock.
func (a *Alert) AbsorbEvent(other *Alert) {
	a.DuplicateCount++
	a.UpdatedAt = time.Now().UTC()
	for _, id := range other.SourceEventIDs {
		a.SourceEventIDs = appendUniqueIDs(a.SourceEventIDs, id)
	}
	a.Indicators = appendUnique(a.Indicators, other.Indicators...)
	a.MitreTechniques = appendUnique(a.MitreTechniques, other.MitreTechniques...)
	a.Entities.Merge(other.Entities)
	if other.Severity.Worse(a.Severity) {
		a.Severity = other.Severity
	}
	if other.Score > a.Score {
		a.Score = other.Score
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

func appendUniqueIDs(dst []CorrelationID, id CorrelationID) []CorrelationID {
	for _, existing := range dst {
		if existing == id {
			return dst
		}
	}
	return append(dst, id)
}
