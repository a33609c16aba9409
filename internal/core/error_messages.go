package core

// error_messages.go maps errors to short user messages with a support code.
//
// Codes:
//
//	SCH001  schema cannot become a table (name collision, empty identifier)
//	STR001  header does not match the declared fields
//	STR002  data file missing or unreadable
//	STR003  invalid CSV
//	TBL001  existing table has an incompatible schema
//	ROW001  value could not be read as its declared type
//	ROW002  row has the wrong number of fields
//	ROW003  store rejected the row
//	PKG001  descriptor not found
//	PKG002  descriptor invalid
//	DB004   store unreachable
//	DB005   store connection interrupted
//	DB006   store operation timed out
//	LOAD001 too many loads running
//	ERR000  anything else
//
// Typed errors are matched first. Untyped errors fall back to
// case-insensitive substring patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabload/internal/descriptor"
)

// UserMessage is what a user sees for an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

var (
	msgSchema = UserMessage{
		Message: "The resource schema cannot be turned into a table",
		Action:  "Rename the fields that collide or contain no letters or digits",
		Code:    "SCH001",
	}
	msgHeader = UserMessage{
		Message: "The file header does not match the declared fields",
		Action:  "Make the CSV header list exactly the fields of the resource schema",
		Code:    "STR001",
	}
	msgFile = UserMessage{
		Message: "The data file could not be read",
		Action:  "Check the resource path in the descriptor",
		Code:    "STR002",
	}
	msgCSV = UserMessage{
		Message: "The data file is not valid CSV",
		Action:  "Fix the quoting near the reported line",
		Code:    "STR003",
	}
	msgIncompatible = UserMessage{
		Message: "The table already exists with a different schema",
		Action:  "Drop or rename the existing table, or load into another store",
		Code:    "TBL001",
	}
	msgCoercion = UserMessage{
		Message: "A value did not match its declared type and was stored as null",
		Action:  "Correct the value or the field type in the descriptor",
		Code:    "ROW001",
	}
	msgMalformed = UserMessage{
		Message: "A row has the wrong number of fields and was skipped",
		Action:  "Check the row for missing or extra delimiters",
		Code:    "ROW002",
	}
	msgInsertFailed = UserMessage{
		Message: "The store rejected a row",
		Action:  "Review the skipped rows in the report",
		Code:    "ROW003",
	}
	msgNoDescriptor = UserMessage{
		Message: "No data package descriptor was found",
		Action:  "Point at a datapackage.json file or the directory holding it",
		Code:    "PKG001",
	}
	msgBadDescriptor = UserMessage{
		Message: "The data package descriptor is invalid",
		Action:  "Validate the descriptor JSON or YAML",
		Code:    "PKG002",
	}
	msgUnavailable = UserMessage{
		Message: "Unable to reach the store",
		Action:  "Check that the database is running and the DSN is correct",
		Code:    "DB004",
	}
	msgReset = UserMessage{
		Message: "The store connection was interrupted",
		Action:  "Run the load again",
		Code:    "DB005",
	}
	msgTimeout = UserMessage{
		Message: "A store operation timed out",
		Action:  "Raise LOAD_BATCH_TIMEOUT or lower LOAD_BATCH_SIZE",
		Code:    "DB006",
	}
	msgBusy = UserMessage{
		Message: "Too many loads are running",
		Action:  "Wait a moment and try again",
		Code:    "LOAD001",
	}
	defaultMessage = UserMessage{
		Message: "An unexpected error occurred",
		Action:  "Check the logs for details",
		Code:    "ERR000",
	}
)

// errorPatterns catch untyped driver errors. Order matters.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"connection refused", msgUnavailable},
	{"no such host", msgUnavailable},
	{"connection reset", msgReset},
	{"broken pipe", msgReset},
	{"deadline exceeded", msgTimeout},
	{"timeout", msgTimeout},
}

// MapError returns the user message for err. A nil error maps to an empty
// message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		schemaErr     *SchemaError
		structuralErr *StructuralError
		incompatErr   *IncompatibleTableError
		coercion      RowCoercionWarning
		malformed     MalformedRowWarning
		skipped       SkippedRow
	)

	switch {
	case errors.As(err, &schemaErr):
		return msgSchema
	case errors.As(err, &incompatErr):
		return msgIncompatible
	case errors.As(err, &structuralErr):
		switch structuralErr.Cause {
		case CauseHeader:
			return msgHeader
		case CauseCSV:
			return msgCSV
		default:
			return msgFile
		}
	case errors.As(err, &coercion):
		return msgCoercion
	case errors.As(err, &malformed):
		return msgMalformed
	case errors.As(err, &skipped):
		if skipped.Kind == SkipMalformed {
			return msgMalformed
		}
		return msgInsertFailed
	case errors.Is(err, descriptor.ErrDescriptorNotFound):
		return msgNoDescriptor
	case errors.Is(err, descriptor.ErrInvalidDescriptor):
		return msgBadDescriptor
	case errors.Is(err, ErrTooManyLoads):
		return msgBusy
	case errors.Is(err, ErrStoreUnavailable):
		if m := matchPattern(err); m.Code == msgReset.Code {
			return m
		}
		return msgUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	if m := matchPattern(err); m.Code != "" {
		return m
	}
	return defaultMessage
}

func matchPattern(err error) UserMessage {
	text := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(text, p.pattern) {
			return p.msg
		}
	}
	return UserMessage{}
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. Returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
