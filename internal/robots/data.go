package robots

import (
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// Permission modeling. Rule matching itself lives in robotstxt.Group;
// ruleSet only carries the metadata a Decision needs to report.

type ruleSet struct {
	host string

	// The user-agent these rules apply to (resolved, not raw)
	userAgent string

	// group is nil when no robots.txt body was parsed (the allow-all rule
	// set built for a 4xx response).
	group *robotstxt.Group

	// Optional crawl delay from robots.txt
	crawlDelay time.Duration

	// Metadata / observability
	fetchedAt time.Time
	sourceURL string

	// hasGroups indicates if a robots.txt body was parsed at all (true even
	// for an empty file; false only for the allow-all 4xx rule set)
	hasGroups bool
}

// decide reports whether path is crawlable under this rule set and why,
// deferring the actual precedence/wildcard matching to robotstxt.Group.Test.
func (r ruleSet) decide(path string) (bool, DecisionReason) {
	if !r.hasGroups {
		return true, EmptyRuleSet
	}
	if r.group == nil {
		return true, UserAgentNotMatched
	}
	if r.group.Test(path) {
		return true, AllowedByRobots
	}
	return false, DisallowedByRobots
}

type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
	RobotsUnreachable   DecisionReason = "robots_unreachable"
)

type Decision struct {
	Url url.URL

	Allowed bool

	// Why this decision was made (for logging/debugging)
	Reason DecisionReason

	// Crawl delay from robots.txt, zero if unset
	CrawlDelay time.Duration
}
