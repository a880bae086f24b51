package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEntity     = errors.New("unknown entity type")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownColumn     = errors.New("column not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionBusy       = errors.New("session is committing")
	ErrSessionClosed     = errors.New("session already executed")
	ErrRunNotFound       = errors.New("run not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrTemplateExists    = errors.New("template already exists")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrReferenceNotFound = errors.New("referenced record does not exist")
	ErrInvalidPolicy     = errors.New("invalid duplicate policy")
	ErrEntityMismatch    = errors.New("template belongs to another entity type")
	ErrInvalidSchedule   = errors.New("invalid schedule")
	ErrScheduleState     = errors.New("schedule cannot change state")
)

// ParseErrorKind classifies why a file could not be parsed.
type ParseErrorKind int

const (
	ParseEmptyFile ParseErrorKind = iota + 1
	ParseTooLarge
	ParseMalformedEncoding
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseEmptyFile:
		return "empty file"
	case ParseTooLarge:
		return "file too large"
	case ParseMalformedEncoding:
		return "encoding error"
	default:
		return "parse error"
	}
}

// ParseError aborts a session before any table exists.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches any *ParseError of the same kind.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyFile         = &ParseError{Kind: ParseEmptyFile}
	ErrTooLarge          = &ParseError{Kind: ParseTooLarge}
	ErrMalformedEncoding = &ParseError{Kind: ParseMalformedEncoding}
)

// ExecutionErrorKind classifies why an import could not run.
type ExecutionErrorKind int

const (
	ExecValidationBlocked ExecutionErrorKind = iota + 1
	ExecNoSourceBound
	ExecStoreUnavailable
)

func (k ExecutionErrorKind) String() string {
	switch k {
	case ExecValidationBlocked:
		return "validation blocked"
	case ExecNoSourceBound:
		return "no source bound"
	case ExecStoreUnavailable:
		return "store unavailable"
	default:
		return "execution error"
	}
}

// ExecutionError is returned when an import run cannot start.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches any *ExecutionError of the same kind.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidationBlocked = &ExecutionError{Kind: ExecValidationBlocked}
	ErrNoSourceBound     = &ExecutionError{Kind: ExecNoSourceBound}
	ErrStoreUnavailable  = &ExecutionError{Kind: ExecStoreUnavailable}
)

// RollbackErrorKind classifies a refused rollback.
type RollbackErrorKind int

const (
	RollbackAlreadyRolledBack RollbackErrorKind = iota + 1
	RollbackNotReversible
)

func (k RollbackErrorKind) String() string {
	switch k {
	case RollbackAlreadyRolledBack:
		return "already rolled back"
	case RollbackNotReversible:
		return "not reversible"
	default:
		return "rollback error"
	}
}

// RollbackError is returned when a run cannot be rolled back.
// The run is left unchanged.
type RollbackError struct {
	Kind  RollbackErrorKind
	RunID string
}

func (e *RollbackError) Error() string {
	if e.RunID == "" {
		return "run " + e.Kind.String()
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Kind.String())
}

// Is matches any *RollbackError of the same kind.
func (e *RollbackError) Is(target error) bool {
	t, ok := target.(*RollbackError)
	return ok && t.Kind == e.Kind
}

var (
	ErrAlreadyRolledBack = &RollbackError{Kind: RollbackAlreadyRolledBack}
	ErrNotReversible     = &RollbackError{Kind: RollbackNotReversible}
)
