package warc

import (
	"fmt"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

type WARCErrorCause string

const (
	ErrCauseOpenFailure   WARCErrorCause = "failed to open warc file"
	ErrCauseWriteFailure  WARCErrorCause = "failed to write record"
	ErrCauseRotateFailure WARCErrorCause = "failed to rotate warc file"
	ErrCauseJournalStale  WARCErrorCause = "journal reports an unclosed write"
	ErrCauseRevisitLookup WARCErrorCause = "failed to look up prior visit"
)

type WARCError struct {
	Cause WARCErrorCause
	Err   error
}

func (e *WARCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("warc error: %s: %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("warc error: %s", e.Cause)
}

func (e *WARCError) Unwrap() error { return e.Err }

// WARC write failures are always fatal to the crawl: a torn WARC file
// invalidates the archive's append-only guarantee, so nothing downstream
// should keep running on top of it.
func (e *WARCError) Severity() failure.Severity { return failure.SeverityFatal }

// mapWARCErrorToMetadataCause maps warc-local error semantics to the
// canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapWARCErrorToMetadataCause(err *WARCError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseOpenFailure, ErrCauseWriteFailure, ErrCauseRotateFailure:
		return metadata.CauseStorageFailure
	case ErrCauseJournalStale:
		return metadata.CauseInvariantViolation
	case ErrCauseRevisitLookup:
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}
