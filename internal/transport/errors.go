package transport

import (
	"fmt"

	"github.com/rohmanhakim/warcling/pkg/failure"
)

type TransportErrorCause string

const (
	ErrCauseBadCertificate TransportErrorCause = "failed to load client certificate"
	ErrCauseBadCACert      TransportErrorCause = "failed to load CA certificate"
	ErrCauseBadBindAddress TransportErrorCause = "invalid bind address"
)

type TransportError struct {
	Cause TransportErrorCause
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Cause, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Severity() failure.Severity { return failure.SeverityFatal }
