package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartSlack covers form boundaries and the non-file fields.
const multipartSlack = 1 << 20

// handleStartSession accepts a multipart upload with fields entity_type
// and file, parses it and opens a session with a proposed mapping.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartSlack)

	if err := r.ParseMultipartForm(multipartSlack); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, r, &core.ParseError{Kind: core.ParseTooLarge, Detail: fmt.Sprintf("limit is %d bytes", maxSize)})
			return
		}
		badRequest(w, r, fmt.Errorf("invalid upload form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	entityType := r.FormValue("entity_type")
	if entityType == "" {
		badRequest(w, r, errors.New("missing entity_type"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, r, errors.New("no file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondErrorStatus(w, r, fmt.Errorf("read upload: %w", err), http.StatusInternalServerError)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = core.MIMEForFile(header.Filename)
	}

	view, err := s.service.StartSession(r.Context(), entityType, header.Filename, mimeType, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DiscardSession(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMappingRequest replaces a session's mapping, field key to column.
type SetMappingRequest struct {
	Mapping core.FieldMapping `json:"mapping"`
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	var req SetMappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	view, err := s.service.SetMapping(chi.URLParam(r, "sessionID"), req.Mapping)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAutoMap(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.AutoMapSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ApplyTemplateRequest selects a saved mapping for a session.
type ApplyTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

func (s *Server) handleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	var req ApplyTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.TemplateID == "" {
		badRequest(w, r, errors.New("missing template_id"))
		return
	}

	view, err := s.service.ApplyTemplate(r.Context(), chi.URLParam(r, "sessionID"), req.TemplateID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ValidateSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		ValidationReport: report,
		Blocking:         report.Blocking(),
	})
}

// ValidateResponse is a validation report plus whether it blocks execution.
type ValidateResponse struct {
	core.ValidationReport
	Blocking bool `json:"blocking"`
}

// ExecuteRequest commits a session. Policy defaults to skip.
type ExecuteRequest struct {
	Policy             core.DuplicatePolicy `json:"policy"`
	AllowDespiteErrors bool                 `json:"allow_despite_errors"`
}

// ExecuteResponse carries the run even when the commit failed, so the
// client sees the ledger entry that was written.
type ExecuteResponse struct {
	Run   *core.ImportRunRecord `json:"run,omitempty"`
	Error *ErrorResponse        `json:"error,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Policy == "" {
		req.Policy = core.PolicySkip
	}

	run, err := s.service.ExecuteSession(r.Context(), chi.URLParam(r, "sessionID"), req.Policy, req.AllowDespiteErrors)
	if err != nil && run.ID == "" {
		respondError(w, r, err)
		return
	}
	if err != nil {
		msg := core.MapError(err)
		writeJSON(w, statusFor(err), ExecuteResponse{
			Run:   &run,
			Error: &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code},
		})
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{Run: &run})
}
