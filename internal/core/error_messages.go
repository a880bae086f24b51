package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

func userMessage(code, message, action string) UserMessage {
	return UserMessage{Message: message, Action: action, Code: code}
}

// knownErrors maps the package's own errors to operator messages.
// They are matched with errors.Is first and then by their text, so an
// error that lost its type crossing a process boundary still maps.
//
// Code ranges:
//
//	IMP  import execution and rollback
//	FILE file parsing
//	MAP  mapping and validation
//	SES  sessions, templates and schedules
//	DB   store and constraint errors
//	RATE request throttling
var knownErrors = []struct {
	err error
	msg UserMessage
}{
	{ErrValidationBlocked, userMessage("IMP001", "The file has validation errors",
		"Fix the reported rows or confirm the import despite errors")},
	{ErrNoSourceBound, userMessage("IMP002", "No file was available for the scheduled import",
		"Place a file in the import directory before the next run")},
	{ErrStoreUnavailable, userMessage("IMP003", "The record store could not be reached",
		"Please try again in a few moments")},
	{ErrAlreadyRolledBack, userMessage("IMP004", "This import has already been rolled back",
		"No further action is needed")},
	{ErrNotReversible, userMessage("IMP005", "This import cannot be rolled back",
		"Only successful imports that created records can be reversed")},
	{ErrTooManyImports, userMessage("IMP006", "The system is busy with other imports",
		"Please wait a moment and try again")},

	{ErrEmptyFile, userMessage("FILE001", "The uploaded file is empty",
		"Upload a file with a header row and data rows")},
	{ErrTooLarge, userMessage("FILE002", "The file exceeds the size or row limit",
		"Split the file into smaller chunks")},
	{ErrMalformedEncoding, userMessage("FILE003", "File contains invalid characters",
		"Save the file as UTF-8")},

	{ErrUnknownEntity, userMessage("MAP001", "Unknown record type",
		"Choose one of the configured record types")},
	{ErrUnknownField, userMessage("MAP002", "The mapping names a field this record type does not have",
		"Review the column mapping")},
	{ErrUnknownColumn, userMessage("MAP003", "The mapping names a column that is not in the file",
		"Verify the column headers or re-map the field")},
	{ErrInvalidPolicy, userMessage("MAP004", "Unknown duplicate handling option",
		"Choose skip, update or import anyway")},

	{ErrSessionNotFound, userMessage("SES001", "Import session not found",
		"The session may have expired. Please upload the file again")},
	{ErrSessionBusy, userMessage("SES002", "The import is still running",
		"Wait for it to finish")},
	{ErrSessionClosed, userMessage("SES003", "This import has already run",
		"Upload the file again to start a new import")},
	{ErrTemplateNotFound, userMessage("SES004", "Mapping template not found",
		"Refresh the template list")},
	{ErrTemplateExists, userMessage("SES005", "A template with this name already exists",
		"Choose a different name")},
	{ErrScheduleNotFound, userMessage("SES006", "Scheduled import not found",
		"Refresh the schedule list")},
	{ErrRunNotFound, userMessage("SES007", "Import run not found",
		"Refresh the import history")},
	{ErrScheduleState, userMessage("SES008", "The scheduled import cannot change to that state",
		"Only pending or active schedules can be paused, and only paused ones resumed")},
	{ErrInvalidSchedule, userMessage("SES009", "The schedule is not valid",
		"Give a run time, a cron recurrence such as 0 6 * * *, or both")},
	{ErrEntityMismatch, userMessage("SES010", "This template was saved for a different data type",
		"Choose a template saved for the data type you are importing")},

	{ErrReferenceNotFound, referenceMissing},
}

var referenceMissing = userMessage("DB001", "Referenced record does not exist", "Import the parent records first")

var timedOut = userMessage("DB005", "Operation timed out", "Try a smaller file or try again later")

// driverPatterns catches errors raised below the store interface, where
// only the text is stable across drivers. Checked in order.
var driverPatterns = []struct {
	text string
	msg  UserMessage
}{
	{"violates foreign key", referenceMissing},
	{"foreign key constraint failed", referenceMissing},
	{"connection refused", userMessage("DB002", "Unable to connect to the record store", "Please try again in a few moments")},
	{"connection reset", userMessage("DB003", "Store connection was interrupted", "Please try again")},
	{"deadlock", userMessage("DB004", "The store was busy with conflicting operations", "Please try again")},
	{"database is locked", userMessage("DB004", "The store was busy with conflicting operations", "Please try again")},
	{"context deadline exceeded", timedOut},
	{"timeout", timedOut},
	{"rate limit", userMessage("RATE001", "Too many requests", "Please wait a moment before trying again")},
}

// defaultMessage is returned when nothing matches; the technical error
// is in the logs.
var defaultMessage = userMessage("ERR000", "An unexpected error occurred", "Please try again or contact support")

// MapError converts a technical error to an operator-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, k := range knownErrors {
		if errors.Is(err, k.err) {
			return k.msg
		}
	}

	text := strings.ToLower(err.Error())
	for _, k := range knownErrors {
		if strings.Contains(text, strings.ToLower(k.err.Error())) {
			return k.msg
		}
	}
	for _, p := range driverPatterns {
		if strings.Contains(text, p.text) {
			return p.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
