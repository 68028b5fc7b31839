package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/internal/cookiejar"
	"github.com/rohmanhakim/warcling/internal/fetcher"
	"github.com/rohmanhakim/warcling/internal/filter"
	"github.com/rohmanhakim/warcling/internal/frontier"
	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/internal/robots"
	"github.com/rohmanhakim/warcling/internal/scraper"
	"github.com/rohmanhakim/warcling/internal/stats"
	"github.com/rohmanhakim/warcling/internal/storage"
	"github.com/rohmanhakim/warcling/internal/transport"
	"github.com/rohmanhakim/warcling/internal/warc"
	"github.com/rohmanhakim/warcling/pkg/failure"
	"github.com/rohmanhakim/warcling/pkg/hashutil"
	"github.com/rohmanhakim/warcling/pkg/limiter"
	"github.com/rohmanhakim/warcling/pkg/retry"
	"github.com/rohmanhakim/warcling/pkg/timeutil"
	"github.com/rohmanhakim/warcling/pkg/urlutil"
)

/*
Engine is the sole control-plane authority over one crawl: it owns every
worker goroutine, the frontier checkout/update cycle, and the decision of
when a pipeline failure is fatal to the crawl versus recoverable for the one
task that hit it. Every other package in this module is a pure port the
Engine wires together and drives; none of them know about each other.
*/
type Engine struct {
	cfg config.Config

	metaSink metaFinalizer

	frontierStore frontier.Frontier
	htmlFetcher   *fetcher.HtmlFetcher
	robot         robots.CachedRobot
	dispatcher    scraper.Dispatcher
	chain         *filter.Chain
	sink          storage.Sink
	warcWriter    *warc.Writer
	pool          *transport.Pool
	rateLimiter   limiter.RateLimiter
	cookieJar     *cookiejar.Jar

	retryParam retry.RetryParam

	counters *stats.Counters
	hooks    stats.Hooks

	quotaSpent *int64

	stopRequested int32
	inFlight      int32
}

// metaFinalizer is the union of the two observability ports the engine
// writes through: per-event recording plus the one terminal summary.
type metaFinalizer interface {
	metadata.MetadataSink
	metadata.CrawlFinalizer
}

// robotsAdapter lets filter.RobotsFilter consult the same CachedRobot
// instance the engine uses for crawl-delay lookups, rather than standing up
// a second, independent robots.txt cache via robots.Checker.
type robotsAdapter struct {
	robot *robots.CachedRobot
}

func (a *robotsAdapter) Allowed(rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}
	decision, err := a.robot.Decide(*u)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// NewEngine wires every port the crawl needs from cfg and opens the
// frontier database. Callers must eventually call Close, even if Run is
// never invoked.
func NewEngine(cfg config.Config) (*Engine, error) {
	recorder := metadata.NewRecorder("engine")
	var metaSink metaFinalizer = &recorder

	pool, err := transport.New(transport.Config{
		DialTimeout:        cfg.Timing().ConnectTimeout,
		ReadTimeout:        cfg.Timing().ReadTimeout,
		Concurrency:        cfg.Concurrency(),
		SecureProtocol:     cfg.TLS().SecureProtocol,
		NoCheckCertificate: cfg.TLS().NoCheckCertificate,
		Certificate:        cfg.TLS().Certificate,
		PrivateKey:         cfg.TLS().PrivateKey,
		CACertificate:      cfg.TLS().CACertificate,
	})
	if err != nil {
		return nil, err
	}

	var jar *cookiejar.Jar
	if !cfg.Protocol().NoCookies {
		jar, err = cookiejar.New()
		if err != nil {
			return nil, err
		}
	}

	htmlFetcher := fetcher.NewHtmlFetcher(metaSink)
	htmlFetcher.Init(&http.Client{}, cfg.Protocol().UserAgent)
	htmlFetcher.
		WithPool(pool).
		WithRedirectPolicy(cfg.Retry().MaxRedirect).
		WithSessionTimeout(cfg.Timing().SessionTimeout).
		WithSpillPolicy(cfg.Recording().WARCTempDir, 10<<20).
		WithRateLimit(cfg.Timing().LimitRateBytes)
	if jar != nil {
		htmlFetcher.WithCookieJar(jar)
	}

	robot := robots.NewCachedRobot(metaSink)
	robot.Init(cfg.Protocol().UserAgent)

	rateLimiter := limiter.NewConcurrentRateLimiter()
	rateLimiter.SetBaseDelay(cfg.Timing().Wait)
	rateLimiter.SetJitter(cfg.Retry().Jitter)
	if cfg.Timing().RandomWait {
		// --random-wait spreads each wait over [0.5x, 1.5x) of --wait: a
		// base of half the wait plus up to one full wait of jitter.
		rateLimiter.SetBaseDelay(cfg.Timing().Wait / 2)
		rateLimiter.SetJitter(cfg.Timing().Wait)
	}
	rateLimiter.SetRandomSeed(cfg.RandomSeed())
	rateLimiter.SetWaitRetryCap(cfg.Timing().WaitRetry)
	rateLimiter.SetBackoffParam(timeutil.NewBackoffParam(
		cfg.Retry().BackoffInitial, cfg.Retry().BackoffMult, cfg.Retry().BackoffMax,
	))

	var quotaSpent int64
	chain, err := buildFilterChain(cfg, &robotsAdapter{robot: &robot}, &quotaSpent)
	if err != nil {
		return nil, err
	}

	naming := storage.NewNamingPolicy(cfg.IO())
	localSink := storage.NewLocalSink(metaSink, naming)
	var sink storage.Sink = &localSink

	dispatcher := scraper.NewDispatcher(metaSink)

	var warcWriter *warc.Writer
	if cfg.Recording().WARCFile != "" && !cfg.DryRun() {
		warcWriter, err = warc.NewWriter(cfg.Recording(), metaSink)
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	frontierStore, err := frontier.Open(cfg.DB().DatabasePath)
	if err != nil {
		if warcWriter != nil {
			warcWriter.Close()
		}
		pool.Close()
		return nil, err
	}

	retryParam := retry.NewRetryParam(
		cfg.Retry().BackoffInitial,
		cfg.Retry().Jitter,
		cfg.RandomSeed(),
		cfg.Retry().Tries,
		timeutil.NewBackoffParam(cfg.Retry().BackoffInitial, cfg.Retry().BackoffMult, cfg.Retry().BackoffMax),
	)

	return &Engine{
		cfg:           cfg,
		metaSink:      metaSink,
		frontierStore: frontierStore,
		htmlFetcher:   &htmlFetcher,
		robot:         robot,
		dispatcher:    dispatcher,
		chain:         chain,
		sink:          sink,
		warcWriter:    warcWriter,
		pool:          pool,
		rateLimiter:   rateLimiter,
		cookieJar:     jar,
		retryParam:    retryParam,
		quotaSpent:    &quotaSpent,
		counters:      stats.NewCounters(),
		hooks:         stats.NoopHooks{},
	}, nil
}

// Counters exposes the engine's live counters so a caller can drive a
// dashboard or a metrics endpoint alongside Run.
func (e *Engine) Counters() *stats.Counters {
	return e.counters
}

// SetHooks installs the callback surface the engine invokes at each stage of
// a task's lifecycle, replacing the no-op default. Must be called before
// Run.
func (e *Engine) SetHooks(hooks stats.Hooks) {
	if hooks != nil {
		e.hooks = hooks
	}
}

// buildFilterChain translates a ScopePolicy into the ordered predicate chain
// every discovered link is evaluated against before it may re-enter the
// frontier.
func buildFilterChain(cfg config.Config, checker filter.RobotsChecker, quotaSpent *int64) (*filter.Chain, error) {
	scope := cfg.Scope()

	seedPath := "/"
	if seeds := cfg.SeedURLs(); len(seeds) > 0 {
		seedPath = seeds[0].Path
	}

	return filter.NewChain(scope, quotaSpent, checker, seedPath)
}

// RequestGracefulStop tells every worker to stop picking up new tasks once
// its current one finishes; in-flight tasks are allowed to complete. The
// caller's context cancellation remains the only way to stop immediately.
func (e *Engine) RequestGracefulStop() {
	atomic.StoreInt32(&e.stopRequested, 1)
}

// Run recovers any IN_PROGRESS rows left by a prior abnormal shutdown,
// submits the seed URLs, and drives cfg.Concurrency() worker goroutines
// until the frontier is exhausted, a graceful stop is requested, or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	if err := e.frontierStore.Release(ctx); err != nil {
		return Summary{}, err
	}
	if err := e.submitSeeds(ctx); err != nil {
		return Summary{}, err
	}

	workers := e.cfg.Concurrency()
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			e.runWorker(ctx)
		}()
	}
	wg.Wait()

	snap := e.counters.Snapshot()
	summary := Summary{
		Fetched:  int(snap.Done),
		Errored:  int(snap.Errored),
		Skipped:  int(snap.Skipped),
		Duration: time.Since(start),
	}

	e.metaSink.RecordFinalCrawlStats(summary.Fetched, summary.Errored, summary.Skipped, summary.Duration)
	e.hooks.FinishStatistics(snap)
	return summary, nil
}

// Close releases every resource NewEngine opened. Safe to call once, after
// Run returns or in place of Run if construction succeeded but the crawl
// never started.
func (e *Engine) Close() error {
	var firstErr error
	if e.warcWriter != nil {
		if err := e.warcWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.frontierStore != nil {
		if err := e.frontierStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) submitSeeds(ctx context.Context) error {
	var tokens []frontier.CrawlToken
	for _, seed := range e.cfg.SeedURLs() {
		norm, err := urlutil.Normalize(seed.String(), nil)
		if err != nil {
			continue
		}
		fetchURL, err := url.Parse(norm.FetchURL)
		if err != nil {
			continue
		}
		tokens = append(tokens, frontier.NewCrawlToken(*fetchURL, 0).WithURLKey(norm.Key))
	}
	if len(tokens) == 0 {
		return fmt.Errorf("no valid seed URLs to submit")
	}
	if err := e.frontierStore.AddMany(ctx, tokens); err != nil {
		return err
	}
	e.counters.IncrQueued(int64(len(tokens)))
	for _, tok := range tokens {
		e.hooks.QueuedURL(stats.URLInfo{URL: tok.URL().String(), Depth: tok.Depth()})
	}
	return nil
}

// runWorker loops CheckOut -> pipeline -> Update until the frontier reports
// no TODO rows AND no sibling worker has a task in flight that might still
// discover more. A bare CheckOut miss with other workers still active just
// means the frontier is momentarily starved, not finished.
func (e *Engine) runWorker(ctx context.Context) {
	const idlePoll = 200 * time.Millisecond

	for {
		if ctx.Err() != nil {
			return
		}
		if atomic.LoadInt32(&e.stopRequested) != 0 {
			return
		}

		tok, ok, err := e.frontierStore.CheckOut(ctx)
		if err != nil {
			e.metaSink.RecordError(time.Now(), "scheduler", "CheckOut", metadata.CauseStorageFailure, err.Error(), nil)
			time.Sleep(idlePoll)
			continue
		}
		if !ok {
			if atomic.LoadInt32(&e.inFlight) == 0 {
				return
			}
			time.Sleep(idlePoll)
			continue
		}

		e.counters.IncrDequeued(1)

		atomic.AddInt32(&e.inFlight, 1)
		out := e.process(ctx, tok)
		atomic.AddInt32(&e.inFlight, -1)

		e.applyOutcome(ctx, tok, out)
	}
}

func (e *Engine) applyOutcome(ctx context.Context, tok frontier.CrawlToken, out outcome) {
	status := frontier.Status(out.status)
	tryCount := tok.TryCount() + 1
	fields := frontier.UpdateFields{Status: &status, TryCount: &tryCount}
	if out.statusCode != 0 {
		fields.StatusCode = &out.statusCode
	}
	if out.filename != "" {
		fields.Filename = &out.filename
	}

	if err := e.frontierStore.Update(ctx, tok.URLKey(), fields); err != nil {
		e.metaSink.RecordError(time.Now(), "scheduler", "Update", metadata.CauseStorageFailure, err.Error(), nil)
	}

	switch status {
	case frontier.StatusDone:
		e.counters.IncrDone()
	case frontier.StatusError:
		e.counters.IncrErrored()
	case frontier.StatusSkipped:
		e.counters.IncrSkipped()
	}

	e.hooks.DequeuedURL(
		stats.URLInfo{URL: tok.URL().String(), Depth: tok.Depth(), Referer: tok.Referer()},
		stats.RecordInfo{StatusCode: out.statusCode, Filename: out.filename, Err: out.err},
	)
}

// process runs one checked-out token through robots/pacing/fetch/record/
// write/discover. A fatal ClassifiedError from the fetcher still only fails
// this one token; the crawl as a whole tolerates individual page failures.
func (e *Engine) process(ctx context.Context, tok frontier.CrawlToken) outcome {
	target := tok.URL()
	host := target.Hostname()
	urlInfo := stats.URLInfo{URL: target.String(), Depth: tok.Depth(), Referer: tok.Referer(), LinkKind: tok.LinkType()}

	if !e.hooks.AcceptURL(urlInfo) {
		return outcome{status: string(frontier.StatusSkipped)}
	}

	if decision, err := e.robot.Decide(target); err != nil {
		if rerr, ok := err.(*robots.RobotsError); ok && rerr.Kind() != robots.KindOther {
			// A 5xx, or a network failure CachedRobot hasn't yet given up
			// on, fetching robots.txt itself: transient, and no verdict on
			// the page, so give the token back to the frontier instead of
			// either fetching blind or burying it as a permanent error. Cap
			// on the same try budget as the fetch itself so a host whose
			// robots.txt never recovers doesn't loop forever.
			if tok.TryCount() < e.cfg.Retry().Tries {
				return outcome{status: string(frontier.StatusTODO), err: rerr}
			}
			return outcome{status: string(frontier.StatusSkipped), err: rerr}
		}
		// Anything else (a malformed URL, an unparsable robots.txt body)
		// can't be retried into success, so fail open rather than stall.
	} else {
		if decision.CrawlDelay > 0 {
			e.rateLimiter.SetCrawlDelay(host, decision.CrawlDelay)
		}
		if !decision.Allowed {
			return outcome{status: string(frontier.StatusSkipped)}
		}
	}

	if delay := e.rateLimiter.ResolveDelay(host); delay > 0 {
		delay = time.Duration(e.hooks.WaitTime(delay.Seconds(), urlInfo) * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return outcome{status: string(frontier.StatusError), err: ctx.Err()}
		}
	}
	e.rateLimiter.MarkLastFetchAsNow(host)

	result, ferr := e.htmlFetcher.Fetch(ctx, tok.Depth(), target, e.retryParam)
	if ferr != nil {
		e.rateLimiter.Backoff(host)
		e.hooks.HandleError(urlInfo, ferr)
		return outcome{status: string(frontier.StatusError), err: ferr, fatal: ferr.Severity() == failure.SeverityFatal}
	}
	e.rateLimiter.ResetBackoff(host)

	if action := e.hooks.HandlePreResponse(urlInfo); action == stats.ActionStop {
		return outcome{status: string(frontier.StatusSkipped)}
	}

	body := result.Body()
	if spill := result.SpillPath(); spill != "" {
		defer os.Remove(spill)
		data, readErr := os.ReadFile(spill)
		if readErr != nil {
			return outcome{status: string(frontier.StatusError), err: readErr}
		}
		body = data
	}
	e.counters.IncrBytesIn(int64(len(body)))

	if e.warcWriter != nil {
		e.recordWARC(ctx, tok, target, result, body)
	}

	var filename string
	if !e.cfg.DryRun() {
		opts := storage.WriteOptions{}
		if tok.Inline() {
			opts.ContentHash = hashBody(body)
		}
		writeResult, werr := e.sink.Write(target, body, opts)
		if werr == nil {
			filename = writeResult.Path()
			atomic.AddInt64(e.quotaSpent, writeResult.BytesWritten())
		}
	}

	e.hooks.HandleResponse(urlInfo)

	contentType := result.Headers()["Content-Type"]
	if isScrapable(contentType) {
		e.discover(ctx, tok, contentType, body, target, result.Headers())
	}

	return outcome{status: string(frontier.StatusDone), statusCode: result.Code(), filename: filename}
}

// recordWARC writes the request/response pair for one fetch. FetchResult
// carries no raw HTTP bytes (the fetcher returns parsed status/headers/body
// only), so the wire-format response block is reconstructed here from the
// pieces that survive.
func (e *Engine) recordWARC(ctx context.Context, tok frontier.CrawlToken, target url.URL, result fetcher.FetchResult, body []byte) {
	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", e.cfg.Protocol().UserAgent)

	requestID, _ := e.warcWriter.WriteRequest(target, req, "")
	rawHTTP := buildRawHTTPResponse(result.Code(), result.Headers(), body)
	e.warcWriter.WriteResponse(ctx, target, tok.URLKey(), rawHTTP, body, e.frontierStore, requestID)
}

func buildRawHTTPResponse(code int, headers map[string]string, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, http.StatusText(code))
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

func hashBody(body []byte) string {
	digest, err := hashutil.HashBytes(body, hashutil.HashAlgoSHA256)
	if err != nil {
		return ""
	}
	return digest
}

// isScrapable reports whether contentType is a format the scraper
// dispatcher has an extractor for; anything else (images, fonts, archives,
// generic binaries) is written to disk but never parsed for links.
func isScrapable(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/css",
		"application/javascript", "text/javascript",
		"application/xml", "text/xml":
		return true
	default:
		return false
	}
}

// discover extracts every reference the fetched document makes to other
// resources, evaluates each against the filter chain, and admits whatever
// survives into the frontier as new TODO rows.
func (e *Engine) discover(ctx context.Context, tok frontier.CrawlToken, contentType string, body []byte, base url.URL, headers map[string]string) {
	links, scrapeErr := e.dispatcher.Dispatch(contentType, bytes.NewReader(body), base)
	if scrapeErr != nil {
		return
	}
	links = scraper.FoldLinkHeaders(headers["Link"], base, links)
	if len(links) == 0 {
		return
	}

	seedHost := ""
	if seeds := e.cfg.SeedURLs(); len(seeds) > 0 {
		seedHost = seeds[0].Hostname()
	}
	root := tok.URL()
	if tok.Root() != nil {
		root = *tok.Root()
	}

	var tokens []frontier.CrawlToken
	for _, link := range links {
		norm, nerr := urlutil.Normalize(link.URL, &base)
		if nerr != nil {
			continue
		}
		parsed, perr := url.Parse(norm.FetchURL)
		if perr != nil {
			continue
		}

		inline := link.Kind == scraper.KindPageRequisite
		depth := tok.Depth()
		if !inline {
			depth++
		}

		candidate := filter.Candidate{
			URL:      *parsed,
			SeedHost: seedHost,
			Depth:    depth,
			Inline:   inline,
			LinkKind: string(link.Kind),
		}
		accepted, _ := e.chain.Evaluate(candidate)
		if !accepted {
			continue
		}
		if !e.hooks.AcceptURL(stats.URLInfo{URL: parsed.String(), Depth: depth, Referer: base.String(), LinkKind: string(link.Kind)}) {
			continue
		}

		var meta frontier.DiscoveryMetadata
		if inline {
			meta = frontier.NewInlineDiscoveryMetadata(depth, nil)
		} else {
			meta = frontier.NewDiscoveryMetadata(depth, nil)
		}

		admission := frontier.NewCrawlAdmissionCandidate(*parsed, frontier.SourceCrawl, meta).WithLineage(base, root)
		newTok := admission.ToCrawlToken(string(link.Kind)).WithURLKey(norm.Key).WithReferer(base.String())
		tokens = append(tokens, newTok)
	}

	if len(tokens) == 0 {
		return
	}
	if err := e.frontierStore.AddMany(ctx, tokens); err != nil {
		e.metaSink.RecordError(time.Now(), "scheduler", "discover", metadata.CauseStorageFailure, err.Error(), nil)
		return
	}
	e.counters.IncrQueued(int64(len(tokens)))
	for _, newTok := range tokens {
		e.hooks.QueuedURL(stats.URLInfo{URL: newTok.URL().String(), Depth: newTok.Depth(), Referer: newTok.Referer()})
	}
}
