package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/go-chi/chi/v5"
)

// ScheduleRequest registers a scheduled import. RunAt, Recurrence or
// both must be set; Recurrence is a cron expression such as "0 6 * * *"
// or a descriptor such as "@daily".
type ScheduleRequest struct {
	EntityType string               `json:"entity_type"`
	RunAt      *time.Time           `json:"run_at"`
	Recurrence string               `json:"recurrence"`
	Options    core.ScheduleOptions `json:"options"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.EntityType == "" {
		badRequest(w, r, errors.New("missing entity_type"))
		return
	}

	var runAt time.Time
	if req.RunAt != nil {
		runAt = *req.RunAt
	}

	sched, err := s.service.ScheduleImport(r.Context(), req.EntityType, runAt, req.Recurrence, req.Options)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListSchedules())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleAction(w, r, s.service.GetSchedule)
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleAction(w, r, s.service.CancelSchedule)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleAction(w, r, s.service.PauseSchedule)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	s.scheduleAction(w, r, s.service.ResumeSchedule)
}

func (s *Server) scheduleAction(w http.ResponseWriter, r *http.Request, action func(string) (core.ScheduledImportRequest, error)) {
	sched, err := action(chi.URLParam(r, "scheduleID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}
