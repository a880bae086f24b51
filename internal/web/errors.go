package web

// errors.go turns engine errors into JSON responses. The technical error
// is logged with the request ID; the client gets the mapped message,
// action and code from core.MapError.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/logging"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusRules is checked in order; the first match wins.
var statusRules = []struct {
	target error
	status int
}{
	{core.ErrSessionNotFound, http.StatusNotFound},
	{core.ErrRunNotFound, http.StatusNotFound},
	{core.ErrTemplateNotFound, http.StatusNotFound},
	{core.ErrScheduleNotFound, http.StatusNotFound},
	{core.ErrUnknownEntity, http.StatusNotFound},

	{core.ErrSessionBusy, http.StatusConflict},
	{core.ErrSessionClosed, http.StatusConflict},
	{core.ErrAlreadyRolledBack, http.StatusConflict},
	{core.ErrNotReversible, http.StatusConflict},
	{core.ErrTemplateExists, http.StatusConflict},
	{core.ErrScheduleState, http.StatusConflict},

	{core.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{core.ErrEmptyFile, http.StatusBadRequest},
	{core.ErrMalformedEncoding, http.StatusBadRequest},
	{core.ErrUnknownField, http.StatusBadRequest},
	{core.ErrUnknownColumn, http.StatusBadRequest},
	{core.ErrInvalidPolicy, http.StatusBadRequest},
	{core.ErrEntityMismatch, http.StatusBadRequest},
	{core.ErrInvalidSchedule, http.StatusBadRequest},

	{core.ErrValidationBlocked, http.StatusUnprocessableEntity},
	{core.ErrNoSourceBound, http.StatusUnprocessableEntity},

	{core.ErrTooManyImports, http.StatusServiceUnavailable},
	{core.ErrStoreUnavailable, http.StatusServiceUnavailable},
}

// statusFor picks the HTTP status for an engine error.
func statusFor(err error) int {
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status
		}
	}
	var perr *core.ParseError
	if errors.As(err, &perr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped error with the status
// derived from it.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, statusFor(err))
}

// respondErrorStatus is respondError with an explicit status, for request
// problems found before the engine is called.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	args := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"user_message", core.FormatUserError(err),
	}
	switch {
	case status >= http.StatusInternalServerError && !core.IsUserFacing(err):
		logger.Error("unexpected request error", args...)
	case status >= http.StatusInternalServerError:
		logger.Error("request error", args...)
	default:
		logger.Warn("request error", args...)
	}

	// Request-shape problems carry their own text; engine errors that did
	// not match a known pattern are not echoed.
	detail := msg.Message
	if status < http.StatusInternalServerError {
		detail = err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}

	writeJSON(w, status, ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// badRequest reports a malformed request.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, http.StatusBadRequest)
}
