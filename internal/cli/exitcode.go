package cli

import (
	"errors"
	"strings"

	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/store"
)

// Exit codes of the tabload binary.
const (
	ExitSuccess          = 0  // every resource loaded, possibly with skipped rows or nulled values
	ExitGeneralError     = 1  // unclassified error
	ExitUsageError       = 2  // missing arguments or bad flags
	ExitPanic            = 3  // internal panic
	ExitConfigError      = 10 // invalid configuration
	ExitStoreUnavailable = 11 // the store could not be reached
	ExitDescriptorError  = 12 // descriptor missing or invalid
	ExitResourcesFailed  = 13 // the run finished but some resources failed
)

var (
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrResourcesFailed is returned by load when the run completed but at
	// least one resource failed.
	ErrResourcesFailed = errors.New("some resources failed to load")
)

// usagePatterns are cobra's argument and flag errors, which carry no type.
var usagePatterns = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"missing required argument",
	"required flag",
	"invalid argument",
	"flag needs an argument",
}

// ExitCodeForError returns the process exit code for err.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, store.ErrUnknownDriver):
		return ExitConfigError
	case errors.Is(err, store.ErrUnavailable):
		return ExitStoreUnavailable
	case errors.Is(err, descriptor.ErrDescriptorNotFound), errors.Is(err, descriptor.ErrInvalidDescriptor):
		return ExitDescriptorError
	case errors.Is(err, ErrResourcesFailed):
		return ExitResourcesFailed
	}

	msg := err.Error()
	for _, p := range usagePatterns {
		if strings.Contains(msg, p) {
			return ExitUsageError
		}
	}
	return ExitGeneralError
}
