package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageKind_Next(t *testing.T) {
	assert.Equal(t, StageThreat, StageAnomaly.Next())
	assert.Equal(t, StageCorrelation, StageThreat.Next())
	assert.Equal(t, StageAlertGen, StageCorrelation.Next())
	assert.Equal(t, StageKind(""), StageAlertGen.Next())
}

func TestAdmit(t *testing.T) {
	event := NewEvent(SourceSyslog)
	item := Admit(event)

	assert.Equal(t, CorrelationID(event.EventID), item.CorrelationID)
	assert.Equal(t, StatusOK, item.Status)
	assert.True(t, item.Advanceable())
	assert.Same(t, event, item.Event)
}

func TestStageResult_DerivedResults(t *testing.T) {
	event := NewEvent(SourceNetwork)
	admitted := Admit(event)

	anomaly := admitted.OkResult(StageAnomaly, 0.9)
	anomaly.Anomaly = &AnomalyResult{Score: 0.8, Classification: ClassAnomalous}

	t.Run("ok accumulates payloads", func(t *testing.T) {
		threat := anomaly.OkResult(StageThreat, 0.85)
		assert.Equal(t, StatusOK, threat.Status)
		assert.Equal(t, StageThreat, threat.Stage)
		require.NotNil(t, threat.Anomaly, "upstream payload must carry forward")
		assert.Equal(t, 0.8, threat.Anomaly.Score)
	})

	t.Run("degraded keeps payloads and advances", func(t *testing.T) {
		degraded := anomaly.DegradedResult(StageThreat, 0.4)
		assert.Equal(t, StatusDegraded, degraded.Status)
		assert.True(t, degraded.Advanceable())
		assert.NotNil(t, degraded.Anomaly)
	})

	t.Run("failed carries error and stops advancing", func(t *testing.T) {
		failed := anomaly.FailedResult(StageThreat, KindTransient, "connection refused")
		assert.Equal(t, StatusFailed, failed.Status)
		assert.False(t, failed.Advanceable())
		assert.Equal(t, KindTransient, failed.ErrKind)
		assert.Equal(t, "connection refused", failed.ErrMsg)
		assert.NotNil(t, failed.Anomaly, "payloads kept for logging context")
	})

	t.Run("suppressed drops payloads", func(t *testing.T) {
		suppressed := anomaly.SuppressedResult(StageAnomaly, "below threshold")
		assert.Equal(t, StatusSuppressed, suppressed.Status)
		assert.False(t, suppressed.Advanceable())
		assert.Nil(t, suppressed.Anomaly)
		assert.Equal(t, "below threshold", suppressed.SuppressReason)
		assert.Equal(t, anomaly.CorrelationID, suppressed.CorrelationID)
	})
}

func TestStageResult_ConfidenceClamped(t *testing.T) {
	item := Admit(NewEvent(SourceSyslog))
	assert.Equal(t, 1.0, item.OkResult(StageAnomaly, 1.7).Confidence)
	assert.Equal(t, 0.0, item.OkResult(StageAnomaly, -0.2).Confidence)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-1))
	assert.Equal(t, 0.5, ClampScore(0.5))
	assert.Equal(t, 1.0, ClampScore(1.5))
}
