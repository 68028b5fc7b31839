package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/internal/redirect"
	"github.com/rohmanhakim/warcling/internal/transport"
	"github.com/rohmanhakim/warcling/pkg/failure"
	"github.com/rohmanhakim/warcling/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Drive redirect chains through internal/redirect and classify the final hop
- Stream response bodies to observers, spilling to disk past a size threshold
- Pace reads when a bandwidth ceiling is configured
- All responses are logged with metadata

The fetcher never parses content; it only returns bytes (or a spill path) and metadata.
*/

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string

	pool *transport.Pool

	maxRedirect int

	sessionTimeout time.Duration

	tempDir               string
	inMemoryBodyThreshold int64

	limitRateBytesPerSec int64
	rate                 *ratecounter.RateCounter

	observers []io.Writer

	cookieJar http.CookieJar
}

func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	return HtmlFetcher{
		metadataSink:          metadataSink,
		httpClient:            &http.Client{},
		maxRedirect:           20,
		inMemoryBodyThreshold: 10 << 20, // 10 MiB, matches spec.md's default spill threshold
		rate:                  ratecounter.NewRateCounter(time.Second),
	}
}

// Init sets the http.Client to issue requests with and the User-Agent to
// send on every request. It exists as a narrow seam so callers (and tests)
// can swap in an instrumented transport without reconstructing the fetcher.
func (h *HtmlFetcher) Init(httpClient *http.Client, userAgent string) {
	h.httpClient = httpClient
	h.userAgent = userAgent
}

// WithPool makes the fetcher acquire a semaphore slot and a scheme-specific
// *http.Client from pool for every request instead of reusing the client set
// by Init. Init's client remains the fallback when pool is nil.
func (h *HtmlFetcher) WithPool(pool *transport.Pool) *HtmlFetcher {
	h.pool = pool
	return h
}

// WithRedirectPolicy sets the hop budget handed to a fresh internal/redirect
// Tracker on every logical request.
func (h *HtmlFetcher) WithRedirectPolicy(maxRedirect int) *HtmlFetcher {
	if maxRedirect > 0 {
		h.maxRedirect = maxRedirect
	}
	return h
}

// WithSessionTimeout bounds the wall-clock time of one logical request,
// including every hop of its redirect chain.
func (h *HtmlFetcher) WithSessionTimeout(d time.Duration) *HtmlFetcher {
	h.sessionTimeout = d
	return h
}

// WithSpillPolicy configures where and when a response body is written to a
// temp file instead of being buffered in memory.
func (h *HtmlFetcher) WithSpillPolicy(tempDir string, thresholdBytes int64) *HtmlFetcher {
	h.tempDir = tempDir
	if thresholdBytes > 0 {
		h.inMemoryBodyThreshold = thresholdBytes
	}
	return h
}

// WithRateLimit paces body reads to roughly bytesPerSec. 0 disables pacing.
func (h *HtmlFetcher) WithRateLimit(bytesPerSec int64) *HtmlFetcher {
	h.limitRateBytesPerSec = bytesPerSec
	return h
}

// WithCookieJar makes the fetcher attach Cookie headers from jar before every
// request and feed Set-Cookie responses back into it after. transport.Pool
// hands out a fresh *http.Client per call, so cookie handling can't ride on
// http.Client.Jar the way it would with a single shared client; the fetcher
// does the attach/capture itself instead.
func (h *HtmlFetcher) WithCookieJar(jar http.CookieJar) *HtmlFetcher {
	h.cookieJar = jar
	return h
}

// WithObservers fans every response body out to w in addition to the
// buffer/spill file Fetch itself produces, e.g. a WARC record writer or the
// scraper's link extractor reading the same bytes as they arrive.
func (h *HtmlFetcher) WithObservers(w ...io.Writer) *HtmlFetcher {
	h.observers = w
	return h
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchUrl url.URL,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	if h.sessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.sessionTimeout)
		defer cancel()
	}

	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.fetchChain(ctx, fetchUrl)
	}

	result := retry.Retry(retryParam, fetchTask)
	duration := time.Since(startTime)
	retryCount := result.Attempts()

	if result.IsFailure() {
		err := result.Err()
		h.metadataSink.RecordFetch(fetchUrl.String(), 0, duration, "", retryCount, crawlDepth)

		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			h.recordRetryError(callerMethod, fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchUrl, err)
		}

		return FetchResult{}, err
	}

	fetched := result.Value()
	h.metadataSink.RecordFetch(
		fetchUrl.String(),
		fetched.Code(),
		duration,
		h.extractContentType(fetched.Headers()),
		retryCount,
		crawlDepth,
	)

	return fetched, nil
}

func (h *HtmlFetcher) extractContentType(headers map[string]string) string {
	if ct, ok := headers["Content-Type"]; ok {
		return ct
	}
	return ""
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

// fetchChain drives one logical request through its full redirect chain
// (internal/redirect decides whether to keep following) and returns the
// terminal HTML response, or an error for the chain as a whole.
func (h *HtmlFetcher) fetchChain(ctx context.Context, fetchUrl url.URL) (FetchResult, failure.ClassifiedError) {
	client := h.clientFor(fetchUrl.Scheme)
	noAutoRedirect := *client
	noAutoRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	tracker := redirect.NewTracker(h.maxRedirect, fetchUrl, h.metadataSink)
	current := redirect.Hop{URL: fetchUrl, RequestHeaders: requestHeaders(h.userAgent)}
	strongRedirect := false

	for {
		if h.pool != nil {
			if err := h.pool.Acquire(ctx); err != nil {
				return FetchResult{}, &FetchError{
					Message:   fmt.Sprintf("failed to acquire connection slot: %v", err),
					Retryable: true,
					Cause:     ErrCauseNetworkFailure,
				}
			}
		}
		resp, fetchErr := h.doRequest(ctx, &noAutoRedirect, current)
		if h.pool != nil {
			h.pool.Release()
		}
		if fetchErr != nil {
			return FetchResult{}, fetchErr
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			resp.Body.Close()
			next, action, strong, rerr := tracker.Follow(
				redirect.Hop{URL: current.URL, StatusCode: resp.StatusCode, RequestHeaders: current.RequestHeaders},
				resp.Header.Get("Location"),
			)
			if rerr != nil {
				return FetchResult{}, &FetchError{
					Message:   rerr.Error(),
					Retryable: false,
					Cause:     ErrCauseRedirectLimitExceeded,
				}
			}
			if action == redirect.ActionFollow {
				current = next
				strongRedirect = strong
				continue
			}
		}

		return h.classifyResponse(current.URL, resp, strongRedirect)
	}
}

func (h *HtmlFetcher) clientFor(scheme string) *http.Client {
	if h.pool != nil {
		if client, err := h.pool.Client(scheme); err == nil {
			return client
		}
	}
	return h.httpClient
}

func (h *HtmlFetcher) doRequest(ctx context.Context, client *http.Client, hop redirect.Hop) (*http.Response, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hop.URL.String(), nil)
	if err != nil {
		return nil, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	for key, value := range hop.RequestHeaders {
		req.Header.Set(key, value)
	}
	if h.cookieJar != nil {
		for _, c := range h.cookieJar.Cookies(req.URL) {
			req.AddCookie(c)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}
	if h.cookieJar != nil {
		if rc := resp.Cookies(); len(rc) > 0 {
			h.cookieJar.SetCookies(req.URL, rc)
		}
	}
	return resp, nil
}

func (h *HtmlFetcher) classifyResponse(fetchUrl url.URL, resp *http.Response, strongRedirect bool) (FetchResult, failure.ClassifiedError) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		return FetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// Reached only once the redirect tracker itself gave up (ActionStop
		// with no error shouldn't happen on a 3xx; treat defensively).
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("redirect error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}

	body, spillPath, sizeByte, err := h.drain(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	return FetchResult{
		url:       fetchUrl,
		body:      body,
		spillPath: spillPath,
		fetchedAt: time.Now(),
		meta: ResponseMeta{
			statusCode:          resp.StatusCode,
			transferredSizeByte: sizeByte,
			responseHeaders:     responseHeaders,
		},
		strongRedirect: strongRedirect,
	}, nil
}

// drain reads body into memory up to inMemoryBodyThreshold, fanning every
// chunk out to h.observers as it goes. Once the threshold is crossed it
// spills the remainder (plus whatever was already buffered) to a temp file
// under h.tempDir and returns its path instead of the bytes. Reads are
// paced to limitRateBytesPerSec when that's configured, measured by the
// fetcher's own ratecounter (not shared with the politeness waiter).
func (h *HtmlFetcher) drain(r io.Reader) (body []byte, spillPath string, sizeByte uint64, err error) {
	var buf bytes.Buffer
	var spill *os.File
	var dst io.Writer = &buf

	chunk := make([]byte, 32*1024)
	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			sizeByte += uint64(n)
			h.paceIfNeeded(n)

			if spill == nil && int64(buf.Len()+n) > h.inMemoryBodyThreshold {
				spill, err = os.CreateTemp(h.tempDir, "warcling-body-*.tmp")
				if err != nil {
					return nil, "", sizeByte, err
				}
				if _, werr := spill.Write(buf.Bytes()); werr != nil {
					spill.Close()
					return nil, "", sizeByte, werr
				}
				buf.Reset()
				dst = spill
			}

			if _, werr := dst.Write(chunk[:n]); werr != nil {
				if spill != nil {
					spill.Close()
				}
				return nil, "", sizeByte, werr
			}
			for _, obs := range h.observers {
				obs.Write(chunk[:n])
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if spill != nil {
				spill.Close()
			}
			return nil, "", sizeByte, readErr
		}
	}

	if spill != nil {
		spillPath = spill.Name()
		spill.Close()
		return nil, spillPath, sizeByte, nil
	}
	return buf.Bytes(), "", sizeByte, nil
}

func (h *HtmlFetcher) paceIfNeeded(n int) {
	if h.limitRateBytesPerSec <= 0 {
		return
	}
	h.rate.Incr(int64(n))
	if rate := h.rate.Rate(); rate > h.limitRateBytesPerSec {
		over := rate - h.limitRateBytesPerSec
		time.Sleep(time.Duration(over) * time.Second / time.Duration(h.limitRateBytesPerSec))
	}
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
