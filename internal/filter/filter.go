package filter

import "net/url"

/*
Filter Chain

An ordered set of independent predicates evaluated with a demultiplexed
result: every filter runs and its Result is recorded for statistics, even
though only the first failure decides accept/reject. Filters know nothing
about fetching, robots caching, or storage beyond the narrow interfaces
(RobotsChecker) they're handed at construction.
*/

// Candidate is the URL under evaluation plus the context a filter needs to
// decide pass/fail. It carries no semantic admission decisions of its own.
type Candidate struct {
	URL            url.URL
	SeedHost       string
	Depth          int
	Inline         bool
	LinkKind       string // linked-page, page-requisite, script-src, sitemap-entry
	StrongRedirect bool   // target of a redirect; bypasses span-host style filters
}

// Result is one filter's verdict, always recorded regardless of whether it
// decided the outcome.
type Result struct {
	Name   string
	Passed bool
	Reason string
}

// Filter is a single named predicate over a Candidate.
type Filter interface {
	Name() string
	Check(c Candidate) Result
	// Bypassable reports whether a strong redirect (the target of a
	// followed redirect) skips this filter entirely.
	Bypassable() bool
}

// Chain runs every filter and records every result; Evaluate accepts the
// candidate only if every filter passed (or was bypassed by a strong
// redirect).
type Chain struct {
	filters []Filter
}

func NewChainFromFilters(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Evaluate runs the full chain and returns whether the candidate is
// admitted, plus every filter's individual result for statistics.
func (c *Chain) Evaluate(candidate Candidate) (bool, []Result) {
	results := make([]Result, 0, len(c.filters))
	accepted := true

	for _, f := range c.filters {
		if candidate.StrongRedirect && f.Bypassable() {
			results = append(results, Result{Name: f.Name(), Passed: true, Reason: "bypassed by strong redirect"})
			continue
		}
		res := f.Check(candidate)
		results = append(results, res)
		if !res.Passed {
			accepted = false
		}
	}

	return accepted, results
}

func pass(name string) Result {
	return Result{Name: name, Passed: true}
}

func reject(name, reason string) Result {
	return Result{Name: name, Passed: false, Reason: reason}
}
