package redirect

import (
	"fmt"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

type RedirectErrorCause string

const (
	ErrCauseRedirectCycle   RedirectErrorCause = "redirect loop or hop limit exceeded"
	ErrCauseInvalidLocation RedirectErrorCause = "missing or unparsable Location header"
)

type RedirectError struct {
	Cause RedirectErrorCause
	Err   error
}

func (e *RedirectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("redirect error: %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("redirect error: %s", e.Cause)
}

func (e *RedirectError) Unwrap() error { return e.Err }

func (e *RedirectError) Severity() failure.Severity { return failure.SeverityFatal }

// mapRedirectErrorToMetadataCause maps redirect-local error semantics to the
// canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapRedirectErrorToMetadataCause(err *RedirectError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseRedirectCycle:
		return metadata.CauseInvariantViolation
	case ErrCauseInvalidLocation:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
