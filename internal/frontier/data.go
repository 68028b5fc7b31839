package frontier

/*
 Frontier - manages crawl state & ordering
*/

import (
	"net/url"
	"time"
)

// Status is the lifecycle state of a frontier row: TODO -> IN_PROGRESS ->
// {DONE|ERROR|SKIPPED}. Transitions are monotonic; an IN_PROGRESS row found
// at process start is reset to TODO by Release (startup recovery).
type Status string

const (
	StatusTODO       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
	StatusSkipped    Status = "SKIPPED"
)

// CrawlToken
// Frontier-issued, per-URL crawl Token
// It represents: "This URL, at this depth, in this deterministic order, is next"
// It contains no semantic policy decisions.
// It represents ordering + depth metadata only.
type CrawlToken struct {
	urlKey   string
	url      url.URL
	depth    int
	parent   *url.URL
	root     *url.URL
	inline   bool
	linkType string
	postData []byte
	referer  string
	tryCount int
	status   Status
}

// NewCrawlToken creates a new CrawlToken with the given URL and depth. It is
// the minimal constructor used for seed URLs, where there is no parent,
// no referer, and no page-requisite classification yet.
func NewCrawlToken(u url.URL, depth int) CrawlToken {
	return CrawlToken{
		url:      u,
		depth:    depth,
		linkType: "html",
		status:   StatusTODO,
	}
}

// NewDiscoveredCrawlToken builds the token for a URL found while processing
// another page, carrying the parent/root lineage and link classification
// the frontier schema persists alongside the URL itself.
func NewDiscoveredCrawlToken(u url.URL, depth int, parent, root url.URL, inline bool, linkType string) CrawlToken {
	return CrawlToken{
		url:      u,
		depth:    depth,
		parent:   &parent,
		root:     &root,
		inline:   inline,
		linkType: linkType,
		status:   StatusTODO,
	}
}

func (c CrawlToken) URL() url.URL     { return c.url }
func (c CrawlToken) Depth() int       { return c.depth }
func (c CrawlToken) URLKey() string   { return c.urlKey }
func (c CrawlToken) Parent() *url.URL { return c.parent }
func (c CrawlToken) Root() *url.URL   { return c.root }
func (c CrawlToken) Inline() bool     { return c.inline }
func (c CrawlToken) LinkType() string { return c.linkType }
func (c CrawlToken) PostData() []byte { return c.postData }
func (c CrawlToken) Referer() string  { return c.referer }
func (c CrawlToken) TryCount() int    { return c.tryCount }
func (c CrawlToken) Status() Status   { return c.status }

func (c CrawlToken) WithPostData(data []byte) CrawlToken {
	c.postData = data
	return c
}

// WithURLKey sets the dedup key the scheduler computed via urlutil.Normalize.
// AddMany rejects any token missing one.
func (c CrawlToken) WithURLKey(key string) CrawlToken {
	c.urlKey = key
	return c
}

func (c CrawlToken) WithReferer(referer string) CrawlToken {
	c.referer = referer
	return c
}

// UpdateFields carries a partial update to a frontier row; nil fields are
// left unchanged. Used by Update after a fetch attempt completes.
type UpdateFields struct {
	Status     *Status
	TryCount   *int
	StatusCode *int
	Filename   *string
}

// CrawlAdmissionCandidate represents a URL that has already been
// admitted by the scheduler.
//
// Invariants:
// - Robots.txt checks have passed
// - Crawl scope and limits have been enforced
// - Frontier MUST treat this as an admitted URL
// - Frontier MUST NOT re-evaluate admission semantics
type CrawlAdmissionCandidate struct {
	// frontier MUST assume this URL is already admitted.
	targetURL url.URL

	// is it seed url or discovered during crawling?
	sourceContext SourceContext

	// additional information about the URL
	discoveryMetadata DiscoveryMetadata

	parent *url.URL
	root   *url.URL
}

func NewCrawlAdmissionCandidate(
	targetUrl url.URL,
	sourceContext SourceContext,
	discoveryMetadata DiscoveryMetadata,
) CrawlAdmissionCandidate {
	return CrawlAdmissionCandidate{
		targetURL:         targetUrl,
		sourceContext:     sourceContext,
		discoveryMetadata: discoveryMetadata,
	}
}

// WithLineage records the parent page and the seed this candidate was
// ultimately discovered from, persisted by the frontier for provenance.
func (c CrawlAdmissionCandidate) WithLineage(parent, root url.URL) CrawlAdmissionCandidate {
	c.parent = &parent
	c.root = &root
	return c
}

func (c *CrawlAdmissionCandidate) TargetURL() url.URL {
	return c.targetURL
}

func (c *CrawlAdmissionCandidate) SourceContext() SourceContext {
	return c.sourceContext
}

func (c *CrawlAdmissionCandidate) DiscoveryMetadata() DiscoveryMetadata {
	return c.discoveryMetadata
}

// ToCrawlToken converts an admitted candidate into the row the frontier
// persists. linkType classifies the link the way the scraper dispatcher
// found it (html|css|js|sitemap|robots|...).
func (c CrawlAdmissionCandidate) ToCrawlToken(linkType string) CrawlToken {
	return CrawlToken{
		url:      c.targetURL,
		depth:    c.discoveryMetadata.Depth(),
		parent:   c.parent,
		root:     c.root,
		inline:   c.discoveryMetadata.Inline(),
		linkType: linkType,
		status:   StatusTODO,
	}
}

type SourceContext string

const (
	SourceSeed  SourceContext = "Seed"
	SourceCrawl SourceContext = "Crawl"
)

type DiscoveryMetadata struct {
	// the depth of the path relative to hostname where the url is found
	// hostname/root -> depth = 0
	depth         int
	delayOverride *time.Duration
	// inline marks a page requisite (image, stylesheet, script) pulled in
	// regardless of --level once --page-requisites is set, as opposed to an
	// ordinary hyperlink subject to recursion depth.
	inline bool
}

func NewDiscoveryMetadata(
	depth int,
	delayOverride *time.Duration,
) DiscoveryMetadata {
	return DiscoveryMetadata{
		depth:         depth,
		delayOverride: delayOverride,
	}
}

// NewInlineDiscoveryMetadata builds the metadata for a page requisite
// discovered at depth, regardless of how the referring page was reached.
func NewInlineDiscoveryMetadata(depth int, delayOverride *time.Duration) DiscoveryMetadata {
	return DiscoveryMetadata{
		depth:         depth,
		delayOverride: delayOverride,
		inline:        true,
	}
}

func (d DiscoveryMetadata) Depth() int {
	return d.depth
}

func (d DiscoveryMetadata) DelayOverride() *time.Duration {
	return d.delayOverride
}

func (d DiscoveryMetadata) Inline() bool {
	return d.inline
}
