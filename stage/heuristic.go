package stage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"siemfusion/core"
)

// mitreByPattern maps recognized attack patterns to ATT&CK technique ids.
var mitreByPattern = map[string][]string{
	"lateral_movement":     {"T1021", "T1570"},
	"privilege_escalation": {"T1068", "T1548"},
	"persistence":          {"T1053", "T1547"},
	"exfiltration":         {"T1048", "T1071"},
}

// HeuristicClient is the built-in offline analysis provider. It scores
// events deterministically against an indicator table instead of calling
// a remote model, which makes it the default for development and the
// reference behavior for tests. Safe for concurrent use.
type HeuristicClient struct {
	indicators *Indicators

	// recent is the rolling window used by the correlation stage. It is
	// the client's only mutable state.
	mu     sync.Mutex
	recent []recentEvent
	window time.Duration
}

type recentEvent struct {
	id       core.CorrelationID
	ts       time.Time
	sourceIP string
	user     string
}

// NewHeuristicClient creates a heuristic client. window bounds how long
// events stay visible to the correlation stage; zero means 24h.
func NewHeuristicClient(indicators *Indicators, window time.Duration) *HeuristicClient {
	if indicators == nil {
		indicators = DefaultIndicators()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &HeuristicClient{indicators: indicators, window: window}
}

// Invoke implements Client.
func (h *HeuristicClient) Invoke(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(core.KindTimeout, err)
	}
	if req == nil || req.Event == nil {
		return nil, NewError(core.KindInvalidInput, errors.New("request carries no event"))
	}

	switch kind {
	case core.StageAnomaly:
		return h.detectAnomaly(req), nil
	case core.StageThreat:
		if req.Anomaly == nil {
			return nil, NewError(core.KindInvalidInput, errors.New("threat stage requires an anomaly payload"))
		}
		return h.verifyThreat(req), nil
	case core.StageCorrelation:
		if req.Threat == nil {
			return nil, NewError(core.KindInvalidInput, errors.New("correlation stage requires a threat payload"))
		}
		return h.correlate(req), nil
	case core.StageAlertGen:
		if req.Correlation == nil {
			return nil, NewError(core.KindInvalidInput, errors.New("alert stage requires a correlation payload"))
		}
		return h.draftAlert(req), nil
	default:
		return nil, NewError(core.KindInvalidInput, fmt.Errorf("unknown stage kind %q", kind))
	}
}

func (h *HeuristicClient) detectAnomaly(req *Request) *Response {
	e := req.Event
	score := 0.0
	var indicators []string

	if h.matchIP(e.StringField("source_ip")) || h.matchIP(e.StringField("destination_ip")) {
		score += 0.5
		indicators = append(indicators, "malicious_ip")
	}
	if proc := strings.ToLower(e.StringField("process")); proc != "" && containsFold(h.indicators.SuspiciousProcesses, proc) {
		score += 0.2
		indicators = append(indicators, "suspicious_process")
	}
	if port := e.IntField("port"); port != 0 {
		for _, p := range h.indicators.SuspiciousPorts {
			if p == port {
				score += 0.2
				indicators = append(indicators, "suspicious_port")
				break
			}
		}
	}
	if path := strings.ToLower(e.StringField("file_path")); path != "" {
		for _, ext := range h.indicators.RiskyExtensions {
			if strings.HasSuffix(path, ext) {
				score += 0.1
				indicators = append(indicators, "risky_extension")
				break
			}
		}
	}
	switch strings.ToLower(e.StringField("severity")) {
	case "critical":
		score += 0.3
		indicators = append(indicators, "collector_severity")
	case "high":
		score += 0.2
		indicators = append(indicators, "collector_severity")
	}
	if hour := e.Timestamp.UTC().Hour(); hour < 6 || hour >= 22 {
		score += 0.1
		indicators = append(indicators, "off_hours")
	}

	score = core.ClampScore(score)
	classification := core.ClassBenign
	switch {
	case score >= 0.7:
		classification = core.ClassAnomalous
	case score >= 0.4:
		classification = core.ClassSuspicious
	}

	return &Response{
		Anomaly: &core.AnomalyResult{
			Score:          score,
			Classification: classification,
			Indicators:     indicators,
		},
		Confidence: 0.9,
	}
}

func (h *HeuristicClient) verifyThreat(req *Request) *Response {
	e := req.Event
	var iocs []string
	family := ""

	for _, key := range []string{"source_ip", "destination_ip"} {
		if ip := e.StringField(key); ip != "" && h.matchIP(ip) {
			iocs = append(iocs, "ip:"+ip)
		}
	}
	if proc := strings.ToLower(e.StringField("process")); proc != "" && containsFold(h.indicators.SuspiciousProcesses, proc) {
		iocs = append(iocs, "process:"+proc)
	}
	haystack := strings.ToLower(e.StringField("command") + " " + e.StringField("message"))
	for _, sig := range h.indicators.MalwareSignatures {
		if strings.Contains(haystack, sig) {
			iocs = append(iocs, "signature:"+sig)
			if family == "" {
				family = sig
			}
		}
	}

	verified := len(iocs) > 0
	score := 0.0
	if verified {
		score = core.ClampScore(0.4 + 0.2*float64(len(iocs)))
	} else {
		// Unverified anomalies keep a floor of their anomaly score so the
		// correlation stage still sees the context.
		score = core.ClampScore(req.Anomaly.Score * 0.5)
	}

	return &Response{
		Threat: &core.ThreatResult{
			Verified:      verified,
			MatchedIOCs:   iocs,
			MalwareFamily: family,
			ThreatScore:   score,
		},
		Confidence: 0.85,
	}
}

func (h *HeuristicClient) correlate(req *Request) *Response {
	e := req.Event
	sourceIP := e.StringField("source_ip")
	user := e.StringField("user")

	related, position := h.observeAndRelate(req.CorrelationID, e.Timestamp, sourceIP, user)

	score := req.Threat.ThreatScore * 0.6
	assetCrit := ""
	if asset, ok := h.indicators.Assets[e.StringField("destination_ip")]; ok {
		assetCrit = asset.Criticality
		switch asset.Criticality {
		case "critical":
			score += 0.3
		case "high":
			score += 0.2
		}
	}
	userRisk := ""
	if profile, ok := h.indicators.Users[user]; ok {
		userRisk = profile.RiskLevel
		if profile.RiskLevel == "high" {
			score += 0.1
		}
	}
	if len(related) > 0 {
		score += 0.1
	}

	pattern := h.matchAttackPattern(e)

	return &Response{
		Correlation: &core.CorrelationResult{
			RelatedEventIDs:  related,
			TimelinePosition: position,
			AttackPattern:    pattern,
			ContextScore:     core.ClampScore(score),
			AssetCriticality: assetCrit,
			UserRiskLevel:    userRisk,
		},
		Confidence: 0.8,
	}
}

func (h *HeuristicClient) draftAlert(req *Request) *Response {
	e := req.Event
	corr := req.Correlation

	title := fmt.Sprintf("Security alert: %s", strings.ReplaceAll(e.EventType, "_", " "))
	if corr.AttackPattern != "" {
		title = fmt.Sprintf("%s (%s)", title, strings.ReplaceAll(corr.AttackPattern, "_", " "))
	}

	desc := fmt.Sprintf("Event %s from %s flagged by the analysis pipeline (threat score %.2f, context score %.2f).",
		e.EventID, e.Source, req.Threat.ThreatScore, corr.ContextScore)
	if req.Threat.MalwareFamily != "" {
		desc += fmt.Sprintf(" Matched malware family: %s.", req.Threat.MalwareFamily)
	}

	actions := []string{
		"Investigate the source address and user activity",
		"Review related events sharing the same source",
	}
	switch corr.AttackPattern {
	case "lateral_movement":
		actions = append(actions, "Audit remote-access sessions from the source host")
	case "exfiltration":
		actions = append(actions, "Inspect outbound transfer volumes from the source host")
	case "privilege_escalation":
		actions = append(actions, "Review privileged group membership changes")
	case "persistence":
		actions = append(actions, "Enumerate autoruns and scheduled tasks on the host")
	}
	if req.Threat.Verified {
		actions = append(actions, "Consider blocking the matched indicators at the perimeter")
	}

	confidence := (0.9 + 0.85 + 0.8) / 3
	if !req.Threat.Verified {
		confidence *= 0.8
	}

	return &Response{
		Draft: &core.AlertDraft{
			Title:              title,
			Description:        desc,
			Entities:           entitiesFromEvent(e),
			AttackVector:       corr.AttackPattern,
			MitreTechniques:    mitreByPattern[corr.AttackPattern],
			RecommendedActions: actions,
			Confidence:         core.ClampScore(confidence),
		},
		Confidence: core.ClampScore(confidence),
	}
}

// observeAndRelate records the event in the rolling window and returns the
// ids of recent events sharing its source ip or user, plus this event's
// ordinal position among them.
func (h *HeuristicClient) observeAndRelate(id core.CorrelationID, ts time.Time, sourceIP, user string) ([]core.CorrelationID, int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := ts.Add(-h.window)
	kept := h.recent[:0]
	for _, r := range h.recent {
		if r.ts.After(cutoff) {
			kept = append(kept, r)
		}
	}
	h.recent = kept

	var related []core.CorrelationID
	for _, r := range h.recent {
		if r.id == id {
			continue
		}
		if (sourceIP != "" && r.sourceIP == sourceIP) || (user != "" && r.user == user) {
			related = append(related, r.id)
		}
	}

	h.recent = append(h.recent, recentEvent{id: id, ts: ts, sourceIP: sourceIP, user: user})
	sort.Slice(related, func(i, j int) bool { return related[i] < related[j] })

	position := 0
	if len(related) > 0 {
		position = len(related) + 1
	}
	return related, position
}

func (h *HeuristicClient) matchIP(ip string) bool {
	if ip == "" {
		return false
	}
	for _, bad := range h.indicators.MaliciousIPs {
		if bad == ip {
			return true
		}
	}
	return false
}

func (h *HeuristicClient) matchAttackPattern(e *core.Event) string {
	haystack := strings.ToLower(strings.Join([]string{
		e.StringField("command"), e.StringField("message"), e.StringField("process"), e.EventType,
	}, " "))
	// Stable iteration so repeated runs pick the same pattern.
	patterns := make([]string, 0, len(h.indicators.AttackPatterns))
	for p := range h.indicators.AttackPatterns {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		for _, keyword := range h.indicators.AttackPatterns[pattern] {
			if strings.Contains(haystack, keyword) {
				return pattern
			}
		}
	}
	return ""
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
