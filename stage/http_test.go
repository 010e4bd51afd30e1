package stage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"siemfusion/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newHTTPTestClient(t *testing.T, handler http.HandlerFunc, breaker *core.CircuitBreaker) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	urls := map[core.StageKind]string{
		core.StageAnomaly: server.URL + "/anomaly",
		core.StageThreat:  server.URL + "/threat",
	}
	return NewHTTPClient(urls, server.Client(), breaker, zaptest.NewLogger(t).Sugar())
}

func anomalyRequest() *Request {
	ev := core.NewEvent(core.SourceSyslog)
	ev.EventType = "auth_failure"
	return &Request{CorrelationID: core.CorrelationID(ev.EventID), Stage: core.StageAnomaly, Event: ev}
}

func TestHTTPClient_Success(t *testing.T) {
	var gotPath string
	var gotReq Request
	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(&Response{
			Anomaly:    &core.AnomalyResult{Score: 0.6, Classification: core.ClassSuspicious},
			Confidence: 0.9,
		})
	}, nil)

	resp, err := client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
	require.NoError(t, err)
	assert.Equal(t, "/anomaly", gotPath)
	assert.Equal(t, core.StageAnomaly, gotReq.Stage)
	require.NotNil(t, resp.Anomaly)
	assert.Equal(t, 0.6, resp.Anomaly.Score)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	testCases := []struct {
		status int
		kind   core.ErrorKind
	}{
		{http.StatusTooManyRequests, core.KindRateLimited},
		{http.StatusGatewayTimeout, core.KindTimeout},
		{http.StatusRequestTimeout, core.KindTimeout},
		{http.StatusInternalServerError, core.KindTransient},
		{http.StatusServiceUnavailable, core.KindTransient},
		{http.StatusBadRequest, core.KindInvalidInput},
		{http.StatusUnprocessableEntity, core.KindInvalidInput},
	}
	for _, tc := range testCases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}, nil)

			_, err := client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestHTTPClient_MissingEndpoint(t *testing.T) {
	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, nil)

	_, err := client.Invoke(context.Background(), core.StageCorrelation, anomalyRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidInput, KindOf(err))
}

func TestHTTPClient_ContextDeadline(t *testing.T) {
	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Invoke(ctx, core.StageAnomaly, anomalyRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindTimeout, KindOf(err))
}

func TestHTTPClient_MalformedBody(t *testing.T) {
	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}, nil)

	_, err := client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindTransient, KindOf(err))
}

func TestHTTPClient_BreakerOpensAfterFailures(t *testing.T) {
	breaker, err := core.NewCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures: 2,
		Cooldown:    time.Minute,
		MaxProbes:   1,
	})
	require.NoError(t, err)

	var serverCalls int
	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		serverCalls++
		w.WriteHeader(http.StatusInternalServerError)
	}, breaker)

	for i := 0; i < 2; i++ {
		_, err := client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
		require.Error(t, err)
		assert.Equal(t, core.KindTransient, KindOf(err))
	}
	assert.Equal(t, core.CircuitOpen, breaker.State())

	// Next call is rejected without reaching the server.
	_, err = client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
	require.Error(t, err)
	assert.Equal(t, core.KindTransient, KindOf(err))
	assert.Equal(t, 2, serverCalls)
}

func TestHTTPClient_InvalidInputDoesNotTripBreaker(t *testing.T) {
	breaker, err := core.NewCircuitBreaker(core.CircuitBreakerConfig{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		MaxProbes:   1,
	})
	require.NoError(t, err)

	client := newHTTPTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, breaker)

	_, err = client.Invoke(context.Background(), core.StageAnomaly, anomalyRequest())
	require.Error(t, err)
	assert.Equal(t, core.CircuitClosed, breaker.State(), "caller bugs must not open the circuit")
}
