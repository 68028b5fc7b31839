package redirect

import (
	"net/url"
	"time"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/collection"
	"github.com/rohmanhakim/warcling/pkg/urlutil"
)

/*
Tracker

Responsibilities:
- Count hops for one logical request, up to maxRedirect
- Detect redirect loops by dedup key, not by url.URL struct identity
- Decide whether Authorization should be carried across a hop
- Flag the first hop of a fresh chain as a "strong redirect" so
  internal/filter can bypass SpanHosts/Domains/Hostnames for it

One Tracker is scoped to a single logical request: the fetcher creates a
fresh Tracker for each URL it fetches, not one per hop.
*/
type Tracker struct {
	maxRedirect  int
	visited      collection.Set[string]
	hopCount     int
	metadataSink metadata.MetadataSink
}

// NewTracker starts a redirect chain rooted at seed. seed itself is marked
// visited immediately, so a chain that redirects back to its own starting
// URL is caught as a cycle on the first hop. sink may be metadata.NoopSink{}
// when the caller doesn't care about redirect errors being recorded.
func NewTracker(maxRedirect int, seed url.URL, sink metadata.MetadataSink) *Tracker {
	visited := collection.NewSet[string]()
	visited.Add(dedupKey(seed))
	return &Tracker{maxRedirect: maxRedirect, visited: visited, metadataSink: sink}
}

// Follow inspects current's response (status code) and the Location header
// it carried, and reports what to do next.
//
// Stop (nil error) means current was not a redirect at all; the caller
// should treat current.URL as the final document. A non-nil error means the
// chain must be abandoned: the caller marks the logical request as errored.
func (t *Tracker) Follow(current Hop, location string) (next Hop, action Action, strongRedirect bool, err *RedirectError) {
	if current.StatusCode < 300 || current.StatusCode >= 400 {
		return Hop{}, ActionStop, false, nil
	}
	if location == "" {
		return Hop{}, ActionStop, false, t.recordErr(&RedirectError{Cause: ErrCauseInvalidLocation})
	}

	target, parseErr := url.Parse(location)
	if parseErr != nil {
		return Hop{}, ActionStop, false, t.recordErr(&RedirectError{Cause: ErrCauseInvalidLocation, Err: parseErr})
	}
	resolved := current.URL.ResolveReference(target)

	key := dedupKey(*resolved)
	if t.hopCount >= t.maxRedirect || t.visited.Contains(key) {
		return Hop{}, ActionStop, false, t.recordErr(&RedirectError{Cause: ErrCauseRedirectCycle})
	}
	t.visited.Add(key)
	t.hopCount++

	headers := make(map[string]string, len(current.RequestHeaders))
	for k, v := range current.RequestHeaders {
		headers[k] = v
	}
	if !sameOrigin(current.URL, *resolved) {
		delete(headers, "Authorization")
	}

	return Hop{
		URL:            *resolved,
		RequestHeaders: headers,
	}, ActionFollow, t.hopCount == 1, nil
}

// recordErr forwards a redirect failure to the metadata sink and returns the
// same error unchanged, so call sites can do `return ..., t.recordErr(err)`.
func (t *Tracker) recordErr(err *RedirectError) *RedirectError {
	if t.metadataSink != nil {
		t.metadataSink.RecordError(time.Now(), "redirect", "follow", mapRedirectErrorToMetadataCause(err), err.Error(), nil)
	}
	return err
}

func dedupKey(u url.URL) string {
	return urlutil.Canonicalize(u).String()
}

func sameOrigin(a, b url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
