package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlert_TransitionTo_ValidTransitions(t *testing.T) {
	testCases := []struct {
		name      string
		from      AlertStatus
		to        AlertStatus
		shouldErr bool
	}{
		{"New to Investigating", AlertStatusNew, AlertStatusInvestigating, false},
		{"New to Resolved", AlertStatusNew, AlertStatusResolved, false},
		{"New to FalsePositive", AlertStatusNew, AlertStatusFalsePositive, false},
		{"Investigating to Resolved", AlertStatusInvestigating, AlertStatusResolved, false},
		{"Investigating to FalsePositive", AlertStatusInvestigating, AlertStatusFalsePositive, false},

		{"Investigating to New", AlertStatusInvestigating, AlertStatusNew, true},
		{"Resolved to Investigating", AlertStatusResolved, AlertStatusInvestigating, true},
		{"Resolved to New", AlertStatusResolved, AlertStatusNew, true},
		{"FalsePositive to Resolved", AlertStatusFalsePositive, AlertStatusResolved, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			alert := &Alert{ID: "alert-1", Status: tc.from}
			err := alert.TransitionTo(tc.to)
			if tc.shouldErr {
				require.Error(t, err)
				assert.Equal(t, tc.from, alert.Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.to, alert.Status)
			}
		})
	}
}

func TestAlert_TransitionTo_InvalidStatus(t *testing.T) {
	alert := &Alert{ID: "alert-1", Status: AlertStatusNew}
	err := alert.TransitionTo("escalated")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alert status")
}

func TestNewAlert(t *testing.T) {
	alert, err := NewAlert("Suspicious login", SeverityHigh, "evt-1")
	require.NoError(t, err)
	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, AlertStatusNew, alert.Status)
	assert.Equal(t, []CorrelationID{"evt-1"}, alert.SourceEventIDs)

	_, err = NewAlert("", SeverityHigh, "evt-1")
	require.Error(t, err)

	_, err = NewAlert("title", "catastrophic", "evt-1")
	require.Error(t, err)
}

func TestAlert_AbsorbEvent(t *testing.T) {
	base := &Alert{
		ID:             "alert-1",
		Severity:       SeverityMedium,
		Score:          0.6,
		SourceEventIDs: []CorrelationID{"evt-1"},
		Indicators:     []string{"malicious_ip", "ip:198.51.100.1"},
		Entities:       AlertEntities{IPs: []string{"198.51.100.1"}, Users: []string{"admin"}},
	}
	incoming := &Alert{
		ID:              "alert-2",
		Severity:        SeverityHigh,
		Score:           0.8,
		SourceEventIDs:  []CorrelationID{"evt-2"},
		Indicators:      []string{"ip:198.51.100.1", "suspicious_process"},
		MitreTechniques: []string{"T1021"},
		Entities:        AlertEntities{IPs: []string{"198.51.100.1"}, Processes: []string{"psexec.exe"}},
	}

	base.AbsorbEvent(incoming)

	assert.Equal(t, 1, base.DuplicateCount)
	assert.ElementsMatch(t, []CorrelationID{"evt-1", "evt-2"}, base.SourceEventIDs)
	assert.ElementsMatch(t, []string{"malicious_ip", "ip:198.51.100.1", "suspicious_process"}, base.Indicators)
	assert.Equal(t, []string{"T1021"}, base.MitreTechniques)
	// The merged alert keeps the worst severity and highest score.
	assert.Equal(t, SeverityHigh, base.Severity)
	assert.Equal(t, 0.8, base.Score)
	// Entity lists stay duplicate-free.
	assert.Equal(t, []string{"198.51.100.1"}, base.Entities.IPs)
	assert.Equal(t, []string{"psexec.exe"}, base.Entities.Processes)
}

func TestAlert_AbsorbEvent_Idempotent(t *testing.T) {
	base := &Alert{ID: "alert-1", SourceEventIDs: []CorrelationID{"evt-1"}}
	incoming := &Alert{ID: "alert-2", SourceEventIDs: []CorrelationID{"evt-2"}}

	base.AbsorbEvent(incoming)
	base.AbsorbEvent(incoming)

	assert.Equal(t, []CorrelationID{"evt-1", "evt-2"}, base.SourceEventIDs, "re-absorbing the same event must not duplicate ids")
	assert.Equal(t, 2, base.DuplicateCount)
}

func TestSeverity_Worse(t *testing.T) {
	assert.True(t, SeverityCritical.Worse(SeverityHigh))
	assert.True(t, SeverityHigh.Worse(SeverityLow))
	assert.False(t, SeverityLow.Worse(SeverityMedium))
	assert.False(t, SeverityHigh.Worse(SeverityHigh))
}
