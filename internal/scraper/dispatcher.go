package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/clbanning/mxj/v2"
	"github.com/tomnomnom/linkheader"
	"mvdan.cc/xurls/v2"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
)

// Dispatcher routes a fetched document's body to the extractor matching its
// content type and folds in any Link: response headers, returning every
// reference the document makes to other resources.
type Dispatcher struct {
	metadataSink metadata.MetadataSink
}

func NewDispatcher(metadataSink metadata.MetadataSink) Dispatcher {
	return Dispatcher{metadataSink: metadataSink}
}

// Dispatch extracts ExtractedLinks from body, resolving relative references
// against base. contentType is matched by MIME prefix so parameters like
// "; charset=utf-8" don't defeat routing.
func (d *Dispatcher) Dispatch(contentType string, body io.Reader, base url.URL) ([]ExtractedLink, failure.ClassifiedError) {
	links, err := d.dispatch(contentType, body, base)
	if err != nil {
		var scrapeErr *ScrapeError
		if !errors.As(err, &scrapeErr) {
			scrapeErr = &ScrapeError{Message: err.Error(), Cause: ErrCauseReadFailure}
		}
		d.metadataSink.RecordError(
			time.Now(),
			"scraper",
			"Dispatch",
			mapScrapeErrorToMetadataCause(scrapeErr),
			scrapeErr.Error(),
			[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, base.String())},
		)
		return links, scrapeErr
	}
	return links, nil
}

func (d *Dispatcher) dispatch(contentType string, body io.Reader, base url.URL) ([]ExtractedLink, error) {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	raw, readErr := io.ReadAll(body)
	if readErr != nil {
		return nil, &ScrapeError{Message: readErr.Error(), Retryable: true, Cause: ErrCauseReadFailure}
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return extractHTML(raw, base)
	case mediaType == "text/css":
		return extractCSS(raw, base), nil
	case mediaType == "application/javascript" || mediaType == "text/javascript":
		return extractJS(raw, base), nil
	case mediaType == "application/xml" && looksLikeSitemap(base):
		return extractSitemap(raw)
	default:
		return nil, &ScrapeError{
			Message: fmt.Sprintf("no extractor registered for %q", mediaType),
			Cause:   ErrCauseUnsupportedContentType,
		}
	}
}

// FoldLinkHeaders parses a Link: response header value and appends its
// targets as page-requisite references, resolved against base.
func FoldLinkHeaders(headerValue string, base url.URL, links []ExtractedLink) []ExtractedLink {
	if headerValue == "" {
		return links
	}
	for _, link := range linkheader.Parse(headerValue) {
		resolved, err := resolveAgainst(base, link.URL)
		if err != nil {
			continue
		}
		links = append(links, ExtractedLink{URL: resolved, Kind: KindPageRequisite})
	}
	return links
}

func extractHTML(raw []byte, base url.URL) ([]ExtractedLink, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &ScrapeError{Message: err.Error(), Cause: ErrCauseMalformedDocument}
	}

	var links []ExtractedLink
	appendIfValid := func(raw string, kind LinkKind) {
		resolved, err := resolveAgainst(base, raw)
		if err != nil || resolved == "" {
			return
		}
		links = append(links, ExtractedLink{URL: resolved, Kind: kind})
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		appendIfValid(href, KindHyperlink)
	})
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		appendIfValid(src, KindPageRequisite)
	})
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		appendIfValid(href, KindPageRequisite)
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		appendIfValid(src, KindPageRequisite)
	})

	return links, nil
}

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

func extractCSS(raw []byte, base url.URL) []ExtractedLink {
	var links []ExtractedLink
	for _, match := range cssURLPattern.FindAllStringSubmatch(string(raw), -1) {
		resolved, err := resolveAgainst(base, match[1])
		if err != nil {
			continue
		}
		links = append(links, ExtractedLink{URL: resolved, Kind: KindPageRequisite})
	}
	return links
}

// extractJS heuristically scans script bodies for absolute URLs. It cannot
// resolve relative references since a bare string in JS source carries no
// syntactic marker of intent, so only absolute matches are kept.
func extractJS(raw []byte, base url.URL) []ExtractedLink {
	var links []ExtractedLink
	for _, match := range xurls.Strict().FindAllString(string(raw), -1) {
		resolved, err := resolveAgainst(base, match)
		if err != nil {
			continue
		}
		links = append(links, ExtractedLink{URL: resolved, Kind: KindHyperlink})
	}
	return links
}

func extractSitemap(raw []byte) ([]ExtractedLink, error) {
	m, err := mxj.NewMapXml(raw)
	if err != nil {
		return nil, &ScrapeError{Message: err.Error(), Cause: ErrCauseMalformedDocument}
	}

	var links []ExtractedLink
	for _, path := range []string{"urlset.url.loc", "sitemapindex.sitemap.loc"} {
		values, valErr := m.ValuesForPath(path)
		if valErr != nil {
			continue
		}
		for _, v := range values {
			if s, ok := v.(string); ok && s != "" {
				links = append(links, ExtractedLink{URL: s, Kind: KindSitemapEntry})
			}
		}
	}
	if len(links) == 0 {
		return nil, &ScrapeError{Message: "no <loc> entries found", Cause: ErrCauseMalformedDocument}
	}
	return links, nil
}

func resolveAgainst(base url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "mailto:") {
		return "", fmt.Errorf("not a fetchable reference")
	}
	target, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(target).String(), nil
}

func looksLikeSitemap(u url.URL) bool {
	return strings.Contains(strings.ToLower(u.Path), "sitemap")
}
