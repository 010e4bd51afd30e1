// Package sink defines the alert delivery boundary. The orchestrator may
// redeliver an alert id after a crash mid-batch, so every implementation
// must be idempotent by alert id: publishing the same id twice stores one
// alert. Merges re-publish the same id with updated content (upsert).
package sink

import (
	"context"
	"sync"

	"siemfusion/core"
)

// Sink receives finalized alerts for persistence or display.
type Sink interface {
	Publish(ctx context.Context, alert *core.Alert) error
	Close() error
}

// MemorySink keeps alerts in memory keyed by id. It is the default sink
// for development and the fixture for tests.
type MemorySink struct {
	mu     sync.RWMutex
	alerts map[string]*core.Alert
	order  []string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{alerts: make(map[string]*core.Alert)}
}

// Publish implements Sink. Re-publishing an id replaces the stored alert.
func (m *MemorySink) Publish(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerts[alert.ID]; !exists {
		m.order = append(m.order, alert.ID)
	}
	copied := *alert
	m.alerts[alert.ID] = &copied
	return nil
}

// Close implements Sink.
func (m *MemorySink) Close() error {
	return nil
}

// Alerts returns the stored alerts in first-publish order.
func (m *MemorySink) Alerts() []*core.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Alert, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.alerts[id])
	}
	return out
}

// Get returns a stored alert by id.
func (m *MemorySink) Get(id string) (*core.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	return a, ok
}

// Len returns the number of stored alerts.
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}
