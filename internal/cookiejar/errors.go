package cookiejar

import (
	"fmt"

	"github.com/rohmanhakim/warcling/pkg/failure"
)

type CookieJarErrorCause string

const (
	ErrCauseJarInitFailed  CookieJarErrorCause = "failed to initialize cookie jar"
	ErrCauseCookiesTxtIO   CookieJarErrorCause = "failed to read or write cookies.txt"
	ErrCauseCookiesTxtForm CookieJarErrorCause = "malformed cookies.txt line"
)

type CookieJarError struct {
	Cause CookieJarErrorCause
	Err   error
}

func (e *CookieJarError) Error() string {
	return fmt.Sprintf("cookiejar error: %s: %v", e.Cause, e.Err)
}

func (e *CookieJarError) Unwrap() error { return e.Err }

func (e *CookieJarError) Severity() failure.Severity { return failure.SeverityFatal }
