package scraper

import (
	"fmt"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

type ScrapeErrorCause string

const (
	ErrCauseUnsupportedContentType ScrapeErrorCause = "unsupported content type"
	ErrCauseMalformedDocument      ScrapeErrorCause = "malformed document"
	ErrCauseReadFailure            ScrapeErrorCause = "failed to read body"
)

type ScrapeError struct {
	Message   string
	Retryable bool
	Cause     ScrapeErrorCause
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scraper error: %s: %s", e.Cause, e.Message)
}

func (e *ScrapeError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapScrapeErrorToMetadataCause maps scraper-local error semantics to the
// canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapScrapeErrorToMetadataCause(err *ScrapeError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseUnsupportedContentType:
		return metadata.CauseContentInvalid
	case ErrCauseMalformedDocument:
		return metadata.CauseContentInvalid
	case ErrCauseReadFailure:
		return metadata.CauseNetworkFailure
	default:
		return metadata.CauseUnknown
	}
}
