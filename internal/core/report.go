package core

import (
	"time"
)

// Outcome is what materializing a table found or did.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeCompatible   Outcome = "existing-compatible"
	OutcomeIncompatible Outcome = "existing-incompatible"
)

// Status summarizes one resource.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial" // some rows skipped or values nulled
	StatusFailed    Status = "failed"
)

// LoadReport is the result of one run. It is the only record of what was
// loaded; nothing in it depends on logs.
type LoadReport struct {
	Package   string           `json:"package"`
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
	Resources []ResourceReport `json:"resources"`
}

// ResourceReport describes one resource of a run.
type ResourceReport struct {
	Resource string  `json:"resource"`
	Table    string  `json:"table,omitempty"`
	Outcome  Outcome `json:"outcome,omitempty"`
	Status   Status  `json:"status"`

	RowsAttempted int `json:"rowsAttempted"`
	RowsInserted  int `json:"rowsInserted"`
	RowsSkipped   int `json:"rowsSkipped"`

	Skipped        []SkippedRow         `json:"skipped,omitempty"`
	Warnings       []RowCoercionWarning `json:"warnings,omitempty"`
	SchemaWarnings []string             `json:"schemaWarnings,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	Duration time.Duration `json:"duration"`

	err error
}

// Err returns the resource's fatal error, if any.
func (r *ResourceReport) Err() error {
	return r.err
}

func (r *ResourceReport) fail(err error) {
	r.err = err
	r.Error = err.Error()
	r.ErrorKind = errorKind(err)
	r.ErrorCode = MapError(err).Code
	r.Status = StatusFailed
}

func (r *ResourceReport) apply(stats ImportStats) {
	r.RowsAttempted = stats.Attempted
	r.RowsInserted = stats.Inserted
	r.RowsSkipped = len(stats.Skipped)
	r.Skipped = stats.Skipped
	r.Warnings = stats.Warnings
}

func (r *ResourceReport) settle(started time.Time) {
	r.Duration = time.Since(started)
	switch {
	case r.err != nil:
		r.Status = StatusFailed
	case r.RowsSkipped > 0 || len(r.Warnings) > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSucceeded
	}
}

// Totals sums the row counters of every resource.
func (r *LoadReport) Totals() (attempted, inserted, skipped int) {
	for _, res := range r.Resources {
		attempted += res.RowsAttempted
		inserted += res.RowsInserted
		skipped += res.RowsSkipped
	}
	return attempted, inserted, skipped
}

// Failed returns the number of failed resources.
func (r *LoadReport) Failed() int {
	n := 0
	for _, res := range r.Resources {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Resource looks up a resource report by resource name.
func (r *LoadReport) Resource(name string) (*ResourceReport, bool) {
	for i := range r.Resources {
		if r.Resources[i].Resource == name {
			return &r.Resources[i], true
		}
	}
	return nil, false
}
