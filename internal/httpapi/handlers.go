package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/riftline/confluence-sentinel/internal/domain"
	"github.com/riftline/confluence-sentinel/internal/persistence"
)

// alertsResponse is the envelope for every alert-listing endpoint. An
// unrecognized symbol or severity yields an empty list, not a 404 — per the
// read-only query surface's tolerant-input contract.
type alertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

// newAlertsResponse wraps list, encoding a nil list as an empty array.
func newAlertsResponse(list []domain.Alert) alertsResponse {
	if list == nil {
		list = []domain.Alert{}
	}
	return alertsResponse{Alerts: list, Count: len(list)}
}

type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	id, _ := r.Context().Value(requestIDKey).(string)
	s.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: id,
		Timestamp: time.Now().UTC(),
	})
}

// serviceVersion is reported at GET / — bump alongside cmd/sentineld's
// appVersion on release.
const serviceVersion = "0.1.0"

// defaultWindow is the lookback used when a handler has no explicit range —
// wide enough to cover the full retention horizon.
const defaultWindow = 48 * time.Hour

func fullRetentionWindow(now time.Time) persistence.TimeRange {
	return persistence.TimeRange{From: now.Add(-defaultWindow), To: now}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "confluence-sentinel",
		"version": serviceVersion,
		"endpoints": []string{
			"/api/health",
			"/api/alerts",
			"/api/alerts/{symbol}",
			"/api/alerts/severity/{severity}",
			"/api/stats",
			"/api/cleanup",
			"/metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.repo.Health(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alertsList, err := s.repo.ListAll(r.Context(), fullRetentionWindow(time.Now()))
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, newAlertsResponse(alertsList))
}

func (s *Server) handleAlertsBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	alertsList, err := s.repo.ListBySymbol(r.Context(), symbol, fullRetentionWindow(time.Now()))
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, newAlertsResponse(alertsList))
}

func (s *Server) handleAlertsBySeverity(w http.ResponseWriter, r *http.Request) {
	severity := domain.Severity(strings.ToUpper(mux.Vars(r)["severity"]))
	alertsList, err := s.repo.ListBySeverity(r.Context(), severity, fullRetentionWindow(time.Now()))
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	s.writeJSON(w, http.StatusOK, newAlertsResponse(alertsList))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context(), fullRetentionWindow(time.Now()))
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.emitter == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, "cleanup is not available")
		return
	}
	removed, err := s.emitter.Prune(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "cleanup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "cleanup complete",
		"deletedCount": removed,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "endpoint not found")
}
