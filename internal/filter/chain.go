package filter

import (
	"fmt"
	"regexp"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

// FilterErrorCause classifies a chain-construction failure.
type FilterErrorCause string

const ErrCauseBadRegex FilterErrorCause = "invalid accept/reject regex"

type FilterError struct {
	Cause FilterErrorCause
	Err   error
}

func (e *FilterError) Error() string  { return fmt.Sprintf("filter error: %s: %v", e.Cause, e.Err) }
func (e *FilterError) Unwrap() error  { return e.Err }
func (e *FilterError) Severity() failure.Severity { return failure.SeverityFatal }

// NewChain builds the standard filter chain from a ScopePolicy. spent is the
// shared counter QuotaFilter reads; pass nil when no quota is configured.
// checker is the robots.txt port; pass nil to disable robots enforcement
// (used by tests and by the robots.txt fetch itself, which always bypasses
// the chain). seedPath is the first seed URL's path, the baseline
// ParentFilter measures ancestry against when NoParent is set; pass "" to
// fall back to "/".
func NewChain(policy config.ScopePolicy, spent *int64, checker RobotsChecker, seedPath string) (*Chain, error) {
	var acceptRe, rejectRe *regexp.Regexp
	var err error
	if policy.AcceptRegex != "" {
		acceptRe, err = regexp.Compile(policy.AcceptRegex)
		if err != nil {
			return nil, &FilterError{Cause: ErrCauseBadRegex, Err: err}
		}
	}
	if policy.RejectRegex != "" {
		rejectRe, err = regexp.Compile(policy.RejectRegex)
		if err != nil {
			return nil, &FilterError{Cause: ErrCauseBadRegex, Err: err}
		}
	}

	if seedPath == "" {
		seedPath = "/"
	}

	filters := []Filter{
		SchemeFilter{AllowFTP: policy.FollowFTP},
		RecursiveFilter{
			Recursive:           policy.Recursive,
			Level:               policy.Level,
			PageRequisites:      policy.PageRequisites,
			PageRequisitesLevel: policy.PageRequisitesLevel,
		},
		SpanHostsFilter{SpanHosts: policy.SpanHosts},
		DomainsFilter{Domains: policy.Domains, ExcludeDomains: policy.ExcludeDomains},
		HostnamesFilter{Hostnames: policy.Hostnames, ExcludeHostnames: policy.ExcludeHostnames},
		RegexFilter{Accept: acceptRe, Reject: rejectRe},
		AcceptRejectFilter{Accept: policy.Accept, Reject: policy.Reject},
		DirectoriesFilter{Include: policy.IncludeDirectories, Exclude: policy.ExcludeDirectories},
		ParentFilter{NoParent: policy.NoParent, SeedPath: seedPath},
		FollowFTPFilter{FollowFTP: policy.FollowFTP},
		HTTPSOnlyFilter{HTTPSOnly: policy.HTTPSOnly},
		QuotaFilter{QuotaBytes: policy.QuotaBytes, Spent: spent},
		RobotsFilter{Checker: checker},
	}

	return NewChainFromFilters(filters...), nil
}
