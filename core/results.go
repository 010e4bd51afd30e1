package core

// Classification buckets an event by how far it deviates from baseline
// behavior.
type Classification string

const (
	ClassBenign     Classification = "benign"
	ClassSuspicious Classification = "suspicious"
	ClassAnomalous  Classification = "anomalous"
)

// AnomalyResult is the stage-1 payload.
type AnomalyResult struct {
	Score          float64        `json:"score"`
	Classification Classification `json:"classification"`
	Indicators     []string       `json:"indicators,omitempty"`
}

// ThreatResult is the stage-2 payload. An unverified result still carries
// informative context for the correlation stage.
type ThreatResult struct {
	Verified      bool     `json:"verified"`
	MatchedIOCs   []string `json:"matched_iocs,omitempty"`
	MalwareFamily string   `json:"malware_family,omitempty"`
	ThreatScore   float64  `json:"threat_score"`
}

// CorrelationResult is the stage-3 payload.
type CorrelationResult struct {
	RelatedEventIDs  []CorrelationID `json:"related_event_ids,omitempty"`
	TimelinePosition int             `json:"timeline_position,omitempty"` // 0 = unknown, ordinals start at 1
	AttackPattern    string          `json:"attack_pattern,omitempty"`
	ContextScore     float64         `json:"context_score"`
	AssetCriticality string          `json:"asset_criticality,omitempty"`
	UserRiskLevel    string          `json:"user_risk_level,omitempty"`
}

// AlertDraft is the stage-4 payload: the analysis service's proposal for
// the final alert, before the orchestrator composes severity, dedups, and
// assigns identity.
type AlertDraft struct {
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Entities           AlertEntities `json:"entities"`
	AttackVector       string        `json:"attack_vector,omitempty"`
	MitreTechniques    []string      `json:"mitre_techniques,omitempty"`
	RecommendedActions []string      `json:"recommended_actions,omitempty"`
	Confidence         float64       `json:"confidence"`
}
