package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/audit"
)

// RunLister returns the audit history. *audit.Tracker implements it.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]audit.Run, error)
}

// APIHandler handles health and run history endpoints
type APIHandler struct {
	Runs      RunLister // nil when auditing is disabled
	Log       *zap.Logger
	StartTime time.Time
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Audit         bool    `json:"audit"`
}

// RunResponse is one entry of GET /runs
type RunResponse struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Input      string         `json:"input"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]int `json:"summary,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Health reports that the server is up
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.StartTime).Seconds(),
		Audit:         h.Runs != nil,
	})
}

// ListRuns returns the latest audited runs; ?limit= caps the count (default 20)
func (h *APIHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		http.Error(w, "Auditoría no configurada", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "Parámetro limit no válido", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.Log.Error("Error consultando ejecuciones", zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, RunResponse{
			ID:         run.ID.String(),
			Kind:       run.Kind,
			Input:      run.Input,
			Status:     run.Status,
			Error:      run.Error,
			Summary:    run.Summary,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
