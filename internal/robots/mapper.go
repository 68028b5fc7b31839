package robots

import "time"

// MapResponseToRuleSet selects the group matching targetUserAgent out of an
// already-parsed robots.txt and wraps it as an immutable ruleSet. Group
// selection (exact match, then longest wildcard prefix, per RFC 9309) is
// robotstxt.RobotsData.FindGroup's job, not ours.
func MapResponseToRuleSet(response RobotsResponse, targetUserAgent string, fetchedAt time.Time) ruleSet {
	rs := ruleSet{
		host:      response.Host,
		userAgent: targetUserAgent,
		fetchedAt: fetchedAt,
		sourceURL: "https://" + response.Host + "/robots.txt",
	}

	if response.data == nil {
		return rs
	}
	rs.hasGroups = true

	group := response.data.FindGroup(targetUserAgent)
	rs.group = group
	if group != nil {
		rs.crawlDelay = group.CrawlDelay
	}
	return rs
}

// ruleSet getters for immutability

// Host returns the host this ruleSet applies to.
func (r ruleSet) Host() string {
	return r.host
}

// UserAgent returns the user agent string these rules apply to.
func (r ruleSet) UserAgent() string {
	return r.userAgent
}

// FetchedAt returns when this ruleSet was fetched.
func (r ruleSet) FetchedAt() time.Time {
	return r.fetchedAt
}

// SourceURL returns the URL of the robots.txt file.
func (r ruleSet) SourceURL() string {
	return r.sourceURL
}

// CrawlDelay returns the crawl delay declared for this user agent, zero if none.
func (r ruleSet) CrawlDelay() time.Duration {
	return r.crawlDelay
}
