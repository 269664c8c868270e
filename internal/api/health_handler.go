package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

// Health returns the health status
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	})
}

// Ready returns the readiness status; it checks the document store
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
				Status:    "store unreachable",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}
	writeHealth(w, http.StatusOK, HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Live returns the liveness status
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeHealth(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
