package frontier

import (
	"fmt"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

type FrontierErrorCause string

const (
	ErrCauseOpenFailure  FrontierErrorCause = "failed to open frontier database"
	ErrCauseSchemaFailed FrontierErrorCause = "failed to apply frontier schema"
	ErrCauseQueryFailure FrontierErrorCause = "frontier query failed"
	ErrCauseCheckoutRace FrontierErrorCause = "checkout lost a compare-and-swap race"
)

type FrontierError struct {
	Message   string
	Retryable bool
	Cause     FrontierErrorCause
	Err       error
}

func (e *FrontierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frontier error: %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("frontier error: %s", e.Cause)
}

func (e *FrontierError) Unwrap() error { return e.Err }

func (e *FrontierError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapFrontierErrorToMetadataCause maps frontier-local error semantics to the
// canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapFrontierErrorToMetadataCause(err *FrontierError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseOpenFailure, ErrCauseSchemaFailed, ErrCauseQueryFailure:
		return metadata.CauseStorageFailure
	case ErrCauseCheckoutRace:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
