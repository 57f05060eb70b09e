package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.getRunEvents)

	// Registry
	mux.HandleFunc("GET /api/skills", s.listSkills)
	mux.HandleFunc("GET /api/patterns", s.listPatterns)

	// Workflow checkpoints
	mux.HandleFunc("GET /api/checkpoints/{workflow}", s.listCheckpoints)

	// Resilience
	mux.HandleFunc("GET /api/breakers", s.listBreakers)
	mux.HandleFunc("GET /api/errors", s.errorReport)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := s.store.ListEvents(r.PathValue("id"), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, events)
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.engine.Registry().List())
}

func (s *Server) listPatterns(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.engine.Dispatcher().Names())
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.store.ListCheckpoints(r.PathValue("workflow"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, checkpoints)
}

func (s *Server) listBreakers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.engine.Breakers().Snapshots())
}

func (s *Server) errorReport(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.engine.Aggregator().GenerateReport())
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListScheduledRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, schedules)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.GetStatus()
	jsonResponse(w, map[string]any{
		"version":           s.version,
		"uptime":            time.Since(s.startedAt).Round(time.Second).String(),
		"patterns":          status.Patterns,
		"skills":            status.Skills,
		"active_executions": status.ActiveExecutions,
		"contexts":          status.Contexts,
	})
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
