package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

// ErrStoreUnavailable means the store could not be reached. It stops the
// whole run and is returned together with the partial report.
var ErrStoreUnavailable = store.ErrUnavailable

// SchemaError reports a resource whose fields cannot become a table.
type SchemaError = schema.SchemaError

// StructuralCause tells the structural failures apart.
type StructuralCause int

const (
	CauseHeader StructuralCause = iota + 1 // header does not match the fields
	CauseFile                              // data file missing or unreadable
	CauseCSV                               // CSV syntax the reader cannot recover from
)

// StructuralError is a fatal problem with a resource's data file. Rows
// inserted before it stay inserted.
type StructuralError struct {
	Resource string
	Line     int
	Cause    StructuralCause
	Reason   string
	Err      error
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "structural error in resource %q", e.Resource)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// IncompatibleTableError reports an existing table that cannot receive the
// resource's rows. The table is left untouched.
type IncompatibleTableError struct {
	Table    string
	Problems []string
}

func (e *IncompatibleTableError) Error() string {
	return fmt.Sprintf("table %q exists with an incompatible schema: %s", e.Table, strings.Join(e.Problems, "; "))
}

// RowCoercionWarning is a cell that could not be read as its declared type.
// The cell is stored as null and the row is kept.
type RowCoercionWarning struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (w RowCoercionWarning) Error() string {
	return fmt.Sprintf("line %d, field %q: %s", w.Line, w.Field, w.Reason)
}

// MalformedRowWarning is a record whose field count differs from the
// header. The row is dropped.
type MalformedRowWarning struct {
	Line int
	Got  int
	Want int
}

func (w MalformedRowWarning) Error() string {
	return fmt.Sprintf("line %d: expected %d fields, got %d", w.Line, w.Want, w.Got)
}

// SkipKind classifies dropped rows.
type SkipKind string

const (
	SkipMalformed    SkipKind = "malformed_row"
	SkipInsertFailed SkipKind = "insert_failed"
)

// SkippedRow is a data row that was not stored.
type SkippedRow struct {
	Line   int      `json:"line"`
	Kind   SkipKind `json:"kind"`
	Reason string   `json:"reason"`
}

func (r SkippedRow) Error() string {
	return fmt.Sprintf("line %d skipped (%s): %s", r.Line, r.Kind, r.Reason)
}

// errorKind names the class of a resource-level error for reports.
func errorKind(err error) string {
	var (
		schemaErr     *SchemaError
		structuralErr *StructuralError
		incompatErr   *IncompatibleTableError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.As(err, &schemaErr):
		return "schema"
	case errors.As(err, &structuralErr):
		return "structural"
	case errors.As(err, &incompatErr):
		return "incompatible_table"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
