package robots

import (
	"fmt"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

type RobotsErrorCause string

const (
	// ErrCauseRepeatedFetchFailure = "repeated fetch failure"
	ErrCauseDisallowRoot         = "root disallowed to be crawled"
	ErrCauseInvalidRobotsUrl     = "invalid robots.txt URL"
	ErrCausePreFetchFailure      = "failed before making fetch"
	ErrCauseHttpFetchFailure     = "failed to fetch"
	ErrCauseHttpTooManyRequests  = "too many requests"
	ErrCauseHttpTooManyRedirects = "too many redirects"
	ErrCauseHttpServerError      = "http server error"
	ErrCauseHttpUnexpectedStatus = "unexpected http status"
	ErrCauseParseError           = "failed to parse robots.txt"
)

type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s", e.Cause)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// RobotsErrorKind buckets a RobotsError the way spec.md §4.F's robots-fetch
// handling does, since "retryable" alone can't tell a caller whether to
// requeue the page for later or give up and allow it through now.
type RobotsErrorKind int

const (
	// KindOther covers errors that are neither a server-side robots.txt
	// failure nor a transport failure (a malformed URL, an unparsable body):
	// retrying won't help, so callers should fail open rather than stall.
	KindOther RobotsErrorKind = iota
	// KindServerError is a 5xx (or 429) response for robots.txt itself: a
	// transient condition on the remote host, not a verdict on whether the
	// page may be crawled.
	KindServerError
	// KindNetwork is a failure to reach the host at all (DNS, connect,
	// timeout, too many redirects): transient in the same way, but distinct
	// because a host that never answers shouldn't block its pages forever.
	KindNetwork
)

// Kind classifies the error so scheduler.Engine can requeue a 5xx instead of
// treating every robots-fetch failure identically.
func (e *RobotsError) Kind() RobotsErrorKind {
	switch e.Cause {
	case ErrCauseHttpServerError, ErrCauseHttpTooManyRequests:
		return KindServerError
	case ErrCauseHttpFetchFailure, ErrCauseHttpTooManyRedirects, ErrCausePreFetchFailure:
		return KindNetwork
	default:
		return KindOther
	}
}

// mapRobotsErrorToMetadataCause maps robots-local error semantics
// to the canonical metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapRobotsErrorToMetadataCause(err *RobotsError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseDisallowRoot:
		return metadata.CausePolicyDisallow
	case ErrCauseInvalidRobotsUrl:
		return metadata.CauseInvariantViolation
	case ErrCausePreFetchFailure:
		return metadata.CauseUnknown
	case ErrCauseHttpFetchFailure:
		return metadata.CauseNetworkFailure
	case ErrCauseHttpTooManyRequests:
		return metadata.CauseNetworkFailure
	case ErrCauseHttpTooManyRedirects:
		return metadata.CauseNetworkFailure
	case ErrCauseHttpServerError:
		return metadata.CauseNetworkFailure
	case ErrCauseHttpUnexpectedStatus:
		return metadata.CauseNetworkFailure
	case ErrCauseParseError:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
