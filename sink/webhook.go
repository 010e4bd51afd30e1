package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"siemfusion/core"

	"go.uber.org/zap"
)

// WebhookSink posts alerts as JSON to an HTTP endpoint, typically a SOAR
// intake or chat integration. A circuit breaker keeps a down endpoint from
// stalling batch finalization; rejected publishes surface as errors and
// the orchestrator logs them without aborting the batch. The receiver is
// expected to dedup by alert id.
type WebhookSink struct {
	url         string
	headers     map[string]string
	minSeverity core.Severity
	client      *http.Client
	breaker     *core.CircuitBreaker
	logger      *zap.SugaredLogger
}

// NewWebhookSink creates a webhook sink. minSeverity filters out alerts
// below the given level; pass SeverityLow to forward everything.
func NewWebhookSink(url string, headers map[string]string, minSeverity core.Severity,
	client *http.Client, breaker *core.CircuitBreaker, logger *zap.SugaredLogger) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	if !minSeverity.IsValid() {
		minSeverity = core.SeverityLow
	}
	return &WebhookSink{
		url:         url,
		headers:     headers,
		minSeverity: minSeverity,
		client:      client,
		breaker:     breaker,
		logger:      logger,
	}
}

// Publish implements Sink.
func (w *WebhookSink) Publish(ctx context.Context, alert *core.Alert) error {
	if w.minSeverity.Worse(alert.Severity) {
		w.logger.Debugw("Skipping alert below webhook severity floor",
			"alert_id", alert.ID, "severity", alert.Severity)
		return nil
	}

	if w.breaker != nil {
		if err := w.breaker.Allow(); err != nil {
			return fmt.Errorf("webhook circuit rejected alert %s: %w", alert.ID, err)
		}
	}

	err := w.post(ctx, alert)
	if w.breaker != nil {
		if err != nil {
			w.breaker.RecordFailure()
		} else {
			w.breaker.RecordSuccess()
		}
	}
	return err
}

func (w *WebhookSink) post(ctx context.Context, alert *core.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert %s: %w", alert.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery of alert %s failed: %w", alert.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d for alert %s", resp.StatusCode, alert.ID)
	}
	return nil
}

// Close implements Sink.
func (w *WebhookSink) Close() error {
	return nil
}
