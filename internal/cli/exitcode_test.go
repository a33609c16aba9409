package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/tabload/internal/core"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/store"
)

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config", fmt.Errorf("%w: bad", ErrInvalidConfig), ExitConfigError},
		{"unknown driver", fmt.Errorf("%w: %q", store.ErrUnknownDriver, "oracle"), ExitConfigError},
		{"unavailable", store.Unavailable(errors.New("dial tcp: connection refused")), ExitStoreUnavailable},
		{"wrapped unavailable", fmt.Errorf("load: %w", fmt.Errorf("%w: x", core.ErrStoreUnavailable)), ExitStoreUnavailable},
		{"descriptor missing", fmt.Errorf("%w: /tmp/x", descriptor.ErrDescriptorNotFound), ExitDescriptorError},
		{"descriptor invalid", fmt.Errorf("%w: no resources", descriptor.ErrInvalidDescriptor), ExitDescriptorError},
		{"resources failed", fmt.Errorf("%w: 1 of 2", ErrResourcesFailed), ExitResourcesFailed},
		{"unknown flag", errors.New("unknown flag: --nope"), ExitUsageError},
		{"arg count", errors.New("accepts 1 arg(s), received 0"), ExitUsageError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeForError(tt.err); got != tt.want {
				t.Errorf("ExitCodeForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
