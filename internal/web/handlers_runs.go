package web

import (
	"net/http"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/go-chi/chi/v5"
)

// defaultRunLimit caps a run listing without an explicit limit.
const defaultRunLimit = 50

// handleListRuns lists ledger entries, newest first. Supported query
// parameters: entity_type, from, to, limit, offset.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var (
		filter = core.RunFilter{EntityType: r.URL.Query().Get("entity_type")}
		err    error
	)
	if filter.Limit, err = parseIntParam(r, "limit", defaultRunLimit); err != nil {
		badRequest(w, r, err)
		return
	}
	if filter.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		badRequest(w, r, err)
		return
	}
	if filter.From, err = parseTimeParam(r, "from", false); err != nil {
		badRequest(w, r, err)
		return
	}
	if filter.To, err = parseTimeParam(r, "to", true); err != nil {
		badRequest(w, r, err)
		return
	}

	runs, err := s.service.QueryRuns(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []core.ImportRunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RollbackRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
