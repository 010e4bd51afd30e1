package stage

import (
	"fmt"
	"strings"

	"siemfusion/core"
)

// Fallback projections per stage. Anomaly and alert generation degrade
// gracefully; threat verification and correlation have no meaningful
// substitute, so their failures surface as Failed and the orchestrator
// discards the event.

// AnomalyFallback passes the event through unscored. It classifies the
// event as suspicious so an event the service could not score is not
// silently suppressed at the threshold gate.
func AnomalyFallback(req *Request) *Response {
	return &Response{
		Anomaly: &core.AnomalyResult{
			Score:          0,
			Classification: core.ClassSuspicious,
		},
		Confidence: 0,
	}
}

// AlertGenFallback builds a minimal draft from the accumulated upstream
// payloads when the generation stage is unavailable. Confidence is scaled
// down so downstream consumers can tell a synthesized alert from a
// composed one.
func AlertGenFallback(req *Request) *Response {
	confidence := 0.0
	attackVector := ""
	if req.Correlation != nil {
		confidence = core.ClampScore(req.Correlation.ContextScore * 0.7)
		attackVector = req.Correlation.AttackPattern
	}

	title := "Security alert"
	if req.Event != nil && req.Event.EventType != "" {
		title = fmt.Sprintf("Security alert: %s", strings.ReplaceAll(req.Event.EventType, "_", " "))
	}

	draft := &core.AlertDraft{
		Title:        title,
		Description:  "Suspicious activity detected; alert synthesized without analysis-service narrative.",
		AttackVector: attackVector,
		RecommendedActions: []string{
			"Investigate the source address and user activity",
			"Check for additional related events in the same window",
			"Verify whether this is legitimate business activity",
		},
		Confidence: confidence,
	}
	if req.Event != nil {
		draft.Entities = entitiesFromEvent(req.Event)
	}
	return &Response{Draft: draft, Confidence: confidence}
}

// entitiesFromEvent extracts the well-known entity fields of the common
// schema into alert entities.
func entitiesFromEvent(e *core.Event) core.AlertEntities {
	var ent core.AlertEntities
	for _, key := range []string{"source_ip", "destination_ip"} {
		if ip := e.StringField(key); ip != "" {
			ent.IPs = append(ent.IPs, ip)
		}
	}
	if u := e.StringField("user"); u != "" {
		ent.Users = append(ent.Users, u)
	}
	if p := e.StringField("process"); p != "" {
		ent.Processes = append(ent.Processes, p)
	}
	if f := e.StringField("file_path"); f != "" {
		ent.Files = append(ent.Files, f)
	}
	if h := e.StringField("host"); h != "" {
		ent.Hosts = append(ent.Hosts, h)
	}
	return ent
}
