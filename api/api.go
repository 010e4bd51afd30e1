// Package api exposes the operational HTTP surface: health, pipeline
// status, Prometheus metrics, event intake and alert listing.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"siemfusion/core"
	"siemfusion/pipeline"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSource provides the pipeline's operational snapshot.
type StatusSource interface {
	Status() *pipeline.Snapshot
}

// Submitter admits events into the pipeline.
type Submitter interface {
	Submit(ctx context.Context, event *core.Event) error
}

// AlertLister exposes published alerts; nil when the configured sink
// cannot list (webhook).
type AlertLister interface {
	Alerts() []*core.Alert
}

// API is the HTTP server over the pipeline.
type API struct {
	router   *mux.Router
	server   *http.Server
	status   StatusSource
	pipeline Submitter
	alerts   AlertLister
	logger   *zap.SugaredLogger
}

// NewAPI creates the API server. alerts may be nil.
func NewAPI(status StatusSource, submitter Submitter, alerts AlertLister, logger *zap.SugaredLogger) *API {
	a := &API{
		router:   mux.NewRouter(),
		status:   status,
		pipeline: submitter,
		alerts:   alerts,
		logger:   logger,
	}
	a.setupRoutes()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.HandleFunc("/api/status", a.getStatus).Methods("GET")
	a.router.HandleFunc("/api/events", a.postEvent).Methods("POST")
	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the router for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	}
	a.writeJSON(w, http.StatusOK, response)
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.status.Status())
}

// postEvent admits one normalized event. Returns 202 with the assigned
// event id; the analysis outcome is asynchronous.
func (a *API) postEvent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Source    string                 `json:"source"`
		EventType string                 `json:"event_type"`
		Timestamp time.Time              `json:"timestamp"`
		Fields    map[string]interface{} `json:"fields"`
		RawRef    string                 `json:"raw_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if in.EventType == "" {
		http.Error(w, "event_type is required", http.StatusBadRequest)
		return
	}

	event := core.NewEvent(core.EventSource(in.Source))
	event.EventType = in.EventType
	if in.Fields != nil {
		event.Fields = in.Fields
	}
	if !in.Timestamp.IsZero() {
		event.Timestamp = in.Timestamp
	}
	event.RawRef = in.RawRef

	if err := a.pipeline.Submit(r.Context(), event); err != nil {
		a.logger.Warnw("Event submission rejected", "error", err)
		http.Error(w, "pipeline unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"event_id": event.EventID})
}

func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	if a.alerts == nil {
		http.Error(w, "configured sink does not support listing", http.StatusNotImplemented)
		return
	}
	a.writeJSON(w, http.StatusOK, a.alerts.Alerts())
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}
