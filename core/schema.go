package core

import (
	"time"

	"github.com/google/uuid"
)

// EventSource identifies the collector family that produced an event.
type EventSource string

const (
	SourceSyslog   EventSource = "syslog"
	SourceDatabase EventSource = "db"
	SourceWindows  EventSource = "windows"
	SourceNetwork  EventSource = "network"
)

// Event is a normalized security event as handed over by the normalizer.
// Events are immutable once admitted to the pipeline; stages derive new
// result objects instead of mutating the event in place.
type Event struct {
	EventID   string                 `json:"event_id"`
	Source    EventSource            `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Fields    map[string]interface{} `json:"fields"`
	// RawRef is a weak back-reference to the original collector record.
	// The pipeline never dereferences it.
	RawRef string `json:"raw_ref,omitempty"`
}

// NewEvent creates an Event with a generated UUID and UTC timestamp.
func NewEvent(source EventSource) *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Fields:    make(map[string]interface{}),
	}
}

// StringField returns a string-typed field value, or "" when absent or
// not a string.
func (e *Event) StringField(key string) string {
	if v, ok := e.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IntField returns an integer-typed field value, or 0 when absent.
// JSON-decoded numbers arrive as float64 and are truncated.
func (e *Event) IntField(key string) int {
	switch v := e.Fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
