package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"siemfusion/core"

	"go.uber.org/zap"
)

// HTTPClient calls a remote analysis service over HTTP. Each stage posts
// its request as JSON to a per-stage URL; the provider is chosen by
// configuration at construction time. This adapter is the only place
// network errors are classified into the error taxonomy.
type HTTPClient struct {
	urls    map[core.StageKind]string
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewHTTPClient creates an HTTP stage client. urls maps each stage to its
// endpoint; missing stages fail with KindInvalidInput at call time.
func NewHTTPClient(urls map[core.StageKind]string, httpClient *http.Client, breaker *core.CircuitBreaker, logger *zap.SugaredLogger) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		urls:    urls,
		client:  httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

// Invoke implements Client.
func (c *HTTPClient) Invoke(ctx context.Context, kind core.StageKind, req *Request) (*Response, error) {
	url, ok := c.urls[kind]
	if !ok || url == "" {
		return nil, NewError(core.KindInvalidInput, fmt.Errorf("no endpoint configured for stage %s", kind))
	}

	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			// An open circuit behaves like a transient outage so the retry
			// policy backs off instead of hammering a known-down service.
			return nil, NewError(core.KindTransient, err)
		}
	}

	resp, err := c.post(ctx, url, req)
	if c.breaker != nil {
		if err != nil && KindOf(err) != core.KindInvalidInput {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return resp, err
}

func (c *HTTPClient) post(ctx context.Context, url string, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, NewError(core.KindInvalidInput, fmt.Errorf("failed to encode stage request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewError(core.KindInvalidInput, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, classifyStatus(httpResp.StatusCode)
	}

	var stageResp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&stageResp); err != nil {
		return nil, NewError(core.KindTransient, fmt.Errorf("failed to decode stage response: %w", err))
	}
	return &stageResp, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(core.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(core.KindTimeout, err)
	}
	return NewError(core.KindTransient, err)
}

func classifyStatus(status int) error {
	err := fmt.Errorf("analysis service returned status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return NewError(core.KindRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(core.KindTimeout, err)
	case status >= 500:
		return NewError(core.KindTransient, err)
	case status >= 400:
		return NewError(core.KindInvalidInput, err)
	default:
		return NewError(core.KindUnknown, err)
	}
}
