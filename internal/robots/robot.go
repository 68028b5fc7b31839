package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/internal/robots/cache"
)

/*
CachedRobot

Responsibilities:
- Fetch robots.txt per host
- Cache fetched robots.txt bodies for the crawl's duration (via RobotsFetcher's cache)
- Decide whether a URL may be crawled before it enters the frontier

Robots checks occur before a URL enters the frontier.
*/
type CachedRobot struct {
	fetcher      *RobotsFetcher
	userAgent    string
	metadataSink metadata.MetadataSink

	// failures is a pointer so it survives CachedRobot being copied by value
	// (NewEngine keeps both an Engine-owned copy and a filter-chain-owned
	// copy alive); the counts it guards must be the same ones both see.
	failures *hostFailureTracker
}

// maxRobotsNetworkFailures is how many consecutive times a host's
// robots.txt may fail to even be reached before Decide gives up waiting and
// allows the host's pages through unconditionally.
const maxRobotsNetworkFailures = 3

// hostFailureTracker counts consecutive robots.txt network failures per
// host, guarded by its own mutex so every CachedRobot copy sharing a
// *hostFailureTracker pointer can update it safely.
type hostFailureTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// incr increments host's failure count and reports whether it has now
// reached max, resetting the count when it has.
func (t *hostFailureTracker) incr(host string, max int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[host]++
	if t.counts[host] >= max {
		delete(t.counts, host)
		return true
	}
	return false
}

func (t *hostFailureTracker) reset(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, host)
}

// NewCachedRobot prepares a CachedRobot for Init/InitWithCache. Recorded
// errors flow through sink.
func NewCachedRobot(sink metadata.MetadataSink) CachedRobot {
	return CachedRobot{metadataSink: sink}
}

// Init wires up an in-memory robots.txt cache for userAgent.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache wires up the given cache implementation for userAgent.
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.metadataSink, userAgent, c)
	r.failures = &hostFailureTracker{counts: make(map[string]int)}
}

// Decide fetches (or reuses the cached) robots.txt for u's host and reports
// whether u may be crawled. A 5xx (or inability to reach the host at all)
// fetching robots.txt is returned as an error so the caller can requeue the
// page rather than silently proceeding or denying it; after
// maxRobotsNetworkFailures consecutive failures to reach a host, that host's
// pages are allowed through unconditionally instead of stalling forever.
func (r *CachedRobot) Decide(u url.URL) (Decision, error) {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	result, ferr := r.fetcher.Fetch(context.Background(), scheme, u.Host)
	if ferr != nil {
		if r.metadataSink != nil {
			r.metadataSink.RecordError(time.Now(), "robots", "fetch", mapRobotsErrorToMetadataCause(ferr), ferr.Error(), nil)
		}
		if ferr.Kind() == KindNetwork && r.failures != nil && r.failures.incr(u.Host, maxRobotsNetworkFailures) {
			return Decision{Url: u, Allowed: true, Reason: RobotsUnreachable}, nil
		}
		return Decision{}, ferr
	}

	if r.failures != nil {
		r.failures.reset(u.Host)
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
	allowed, reason := rs.decide(requestPath(u))

	return Decision{
		Url:        u,
		Allowed:    allowed,
		Reason:     reason,
		CrawlDelay: rs.CrawlDelay(),
	}, nil
}

func requestPath(u url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

// Checker adapts CachedRobot to the narrow filter.RobotsChecker port
// (Allowed(rawURL string) (bool, error)), so internal/filter never imports
// this package's fetch/cache/parse machinery directly.
type Checker struct {
	robot CachedRobot
}

// NewChecker builds a Checker with its own robots.txt cache.
func NewChecker(sink metadata.MetadataSink, userAgent string, c cache.Cache) *Checker {
	robot := NewCachedRobot(sink)
	robot.InitWithCache(userAgent, c)
	return &Checker{robot: robot}
}

func (c *Checker) Allowed(rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, &RobotsError{
			Message:   "invalid URL: " + err.Error(),
			Retryable: false,
			Cause:     ErrCauseInvalidRobotsUrl,
		}
	}
	decision, err := c.robot.Decide(*u)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}
