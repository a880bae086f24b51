package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/go-chi/chi/v5"
)

// TemplateRequest creates or updates a mapping template.
// EntityType is ignored on update.
type TemplateRequest struct {
	EntityType    string            `json:"entity_type"`
	Name          string            `json:"name"`
	Mapping       core.FieldMapping `json:"mapping"`
	SourceColumns []string          `json:"source_columns"`
}

func (req TemplateRequest) check() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("template name is required")
	}
	if req.Mapping.Len() == 0 {
		return errors.New("template mapping is empty")
	}
	return nil
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	if entityType == "" {
		badRequest(w, r, errors.New("missing entity_type"))
		return
	}

	templates, err := s.service.ListTemplates(r.Context(), entityType)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if templates == nil {
		templates = []core.MappingTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

// handleMatchTemplates suggests templates for a file's header row,
// passed as ?entity_type=students&columns=Student ID,Email.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("entity_type")
	columns := splitList(r.URL.Query().Get("columns"))
	if entityType == "" || len(columns) == 0 {
		badRequest(w, r, errors.New("entity_type and columns are required"))
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), entityType, columns)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTemplate(r.Context(), chi.URLParam(r, "templateID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		badRequest(w, r, err)
		return
	}

	t, err := s.service.CreateTemplate(r.Context(), req.EntityType, req.Name, req.Mapping, req.SourceColumns)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := req.check(); err != nil {
		badRequest(w, r, err)
		return
	}

	t, err := s.service.UpdateTemplate(r.Context(), chi.URLParam(r, "templateID"), req.Name, req.Mapping, req.SourceColumns)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
