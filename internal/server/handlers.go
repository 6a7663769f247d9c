package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/store"
)

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experimentsCount"`
	DBSizeBytes      int64  `json:"dbSizeBytes,omitempty"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeFetchError(w http.ResponseWriter, id int64, err error) {
	if isNotFound(err) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.log.Warn("experiment fetch failed", "experiment_id", id, "err", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	exps, err := s.store.ListExperiments(r.Context())
	if err != nil {
		s.log.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
		return
	}

	// Only the local backend has a database file to report on
	var dbSize int64
	if db, ok := s.store.(interface{ DB() *sql.DB }); ok {
		row := db.DB().QueryRowContext(r.Context(), "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			s.log.Debug("database size unavailable", "err", err)
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(exps),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all, _ := strconv.ParseBool(q.Get("all"))
	opts := analysis.ListOptions{
		IncludeArchived: all,
		Status:          store.Status(q.Get("status")),
	}

	summaries, err := s.fetcher.List(r.Context(), opts)
	if err != nil {
		s.log.Warn("list experiments failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": summaries,
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	a, err := analysis.Analyze(r.Context(), s.fetcher, id)
	if err != nil {
		s.writeFetchError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := experimentID(w, r)
	if !ok {
		return
	}

	a, err := analysis.Analyze(r.Context(), s.fetcher, id)
	if err != nil {
		s.writeFetchError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis.BuildView(a))
}

func experimentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := store.ParseID(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return 0, false
	}
	return id, true
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// BeaconRequest represents an incoming beacon event
type BeaconRequest struct {
	ExperimentID int64  `json:"experimentId"`
	Variant      string `json:"variant"`
	Event        string `json:"event"`
	VisitorID    string `json:"visitorId"`
}

func (s *Server) handleBeacon(rec store.Recorder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all responses
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req BeaconRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		if req.ExperimentID <= 0 || req.Variant == "" || req.VisitorID == "" {
			http.Error(w, "Missing required fields", http.StatusBadRequest)
			return
		}

		if req.Event != store.EventExposure && req.Event != store.EventConversion {
			http.Error(w, "Invalid event type", http.StatusBadRequest)
			return
		}

		// Deduplication is handled by the store
		err := rec.RecordEvent(r.Context(), req.ExperimentID, req.Variant, req.Event, req.VisitorID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Experiment not found", http.StatusNotFound)
			return
		case errors.Is(err, store.ErrInvalidVariant):
			http.Error(w, "Invalid variant", http.StatusBadRequest)
			return
		case err != nil:
			s.log.Error("failed to record event", "experiment_id", req.ExperimentID, "err", err)
			http.Error(w, "Failed to record event", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}
