// Package api serves engine status, the feature schema and stored vector
// summaries over HTTP.
package api

import (
	"FlowSpectra/internal/engine/features"
	"FlowSpectra/internal/engine/manager"
	"FlowSpectra/internal/query"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider is implemented by *manager.Engine.
type StatsProvider interface {
	Stats() manager.Stats
}

// SchemaResponse describes the layout of every emitted vector.
type SchemaResponse struct {
	Version uint16   `json:"version"`
	Fields  []string `json:"fields"`
}

// APIHandler holds the dependencies for API handlers. Either dependency may be
// nil, in which case its routes are not registered.
type APIHandler struct {
	stats   StatsProvider
	querier query.Querier
}

// NewRouter builds the HTTP routes. A nil gatherer leaves /metrics out.
func NewRouter(stats StatsProvider, querier query.Querier, gatherer prometheus.Gatherer) *mux.Router {
	h := &APIHandler{stats: stats, querier: querier}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/schema", h.schemaHandler).Methods("GET")
	if stats != nil {
		r.HandleFunc("/api/v1/stats", h.statsHandler).Methods("GET")
	}
	if querier != nil {
		r.HandleFunc("/api/v1/vectors/summary", h.summaryHandler).Methods("GET")
	}
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *APIHandler) schemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, SchemaResponse{Version: features.SchemaVersion, Fields: features.Names()})
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.stats.Stats())
}

// summaryHandler accepts optional RFC 3339 from and to query parameters.
func (h *APIHandler) summaryHandler(w http.ResponseWriter, r *http.Request) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid from: %v", err), http.StatusBadRequest)
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid to: %v", err), http.StatusBadRequest)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		http.Error(w, "to is before from", http.StatusBadRequest)
		return
	}

	summary, err := h.querier.SummarizeVectors(r.Context(), from, to)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query vectors: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Printf("API: failed to write response: %v", err)
	}
}
