// Package handlers is the thin HTTP boundary in front of
// pkg/transit.Client: it parses the request, calls
// departuresForStation, and serializes the result. No business logic
// lives here.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/resolver"
	"github.com/transitcore/departures-api/pkg/transit"
)

// Handler wraps a transit.Client with REST endpoints.
type Handler struct {
	client transit.Client
}

func NewHandler(client transit.Client) *Handler {
	return &Handler{client: client}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/departures/{stationKey}", h.handleDepartures).Methods(http.MethodGet)
	r.HandleFunc("/refresh", h.handleRefresh).Methods(http.MethodPost)
}

// ResponseMetadata is attached to every successful response.
type ResponseMetadata struct {
	LastRefreshed string `json:"lastRefreshed,omitempty"`
}

type DeparturesResponse struct {
	Data []models.Departure `json:"data"`
	ResponseMetadata
}

type InfoResponse struct {
	Data map[string]string `json:"data"`
	ResponseMetadata
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) responseMetadata() ResponseMetadata {
	meta := ResponseMetadata{}
	if last := h.client.LastRefreshed(); !last.IsZero() {
		meta.LastRefreshed = last.Format(time.RFC3339)
	}
	return meta
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, InfoResponse{
		Data: map[string]string{
			"title": "departures-api",
		},
		ResponseMetadata: h.responseMetadata(),
	})
}

// handleDepartures implements the resolver's public surface:
// GET /departures/{stationKey}?limitMinutes=30&source=realtime
func (h *Handler) handleDepartures(w http.ResponseWriter, r *http.Request) {
	stationKey := mux.Vars(r)["stationKey"]

	req := resolver.Request{UniqueStationKey: stationKey}

	if raw := r.URL.Query().Get("limitMinutes"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, "limitMinutes must be a positive integer", http.StatusBadRequest)
			return
		}
		req.LimitMinutes = &limit
	}

	if source := r.URL.Query().Get("source"); source != "" {
		if source != "realtime" && source != "scheduled" {
			h.writeError(w, "source must be realtime or scheduled", http.StatusBadRequest)
			return
		}
		req.SourceFilter = source
	}

	departures, err := h.client.DeparturesForStation(r.Context(), req)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if departures == nil {
		departures = []models.Departure{}
	}

	h.writeJSON(w, DeparturesResponse{
		Data:             departures,
		ResponseMetadata: h.responseMetadata(),
	})
}

// handleRefresh triggers an out-of-schedule static-index rebuild.
// Operator tooling only; not part of the read-path request flow.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Refresh(r.Context()); err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, InfoResponse{
		Data:             map[string]string{"status": "refreshed"},
		ResponseMetadata: h.responseMetadata(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.writeError(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
