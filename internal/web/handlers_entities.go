package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse reports engine load.
type StatusResponse struct {
	Imports   core.LimiterStatus `json:"imports"`
	Entities  int                `json:"entities"`
	Sessions  int                `json:"sessions"`
	Schedules int                `json:"schedules"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Imports:   s.service.LimiterStatus(),
		Entities:  core.EntityCount(),
		Sessions:  s.service.SessionCount(),
		Schedules: len(s.service.ListSchedules()),
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Entities())
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := s.service.Fields(chi.URLParam(r, "entityType"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// handleDownloadSample serves a header-plus-example file for an entity
// type. ?format=xlsx selects a workbook; CSV is the default.
func (s *Server) handleDownloadSample(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	format := core.SampleFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = core.SampleCSV
	}

	data, contentType, err := core.SampleFile(entityType, format)
	if err != nil {
		if _, ok := core.Get(entityType); ok {
			badRequest(w, r, err)
			return
		}
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+entityType+"_sample."+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleCountRecords(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	n, err := s.service.CountRecords(r.Context(), entityType)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_type": entityType, "count": n})
}
