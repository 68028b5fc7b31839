package robots

import (
	"bufio"
	"strings"

	"github.com/temoto/robotstxt"
)

// RobotsResponse is the parsed content of a robots.txt file. Rule matching
// is delegated entirely to robotstxt.RobotsData; this wraps it with the
// metadata (host, sitemaps) a fetch result needs to carry alongside it.
// Use MapResponseToRuleSet, not this struct directly, for decisions.
type RobotsResponse struct {
	// The host this robots.txt applies to
	Host string

	// Sitemap URLs declared in the file, in file order
	Sitemaps []string

	data    *robotstxt.RobotsData
	rawBody []byte
}

// ParseRobotsTxt parses raw robots.txt bytes for hostname.
func ParseRobotsTxt(content []byte, hostname string) (RobotsResponse, *RobotsError) {
	data, err := robotstxt.FromBytes(content)
	if err != nil {
		return RobotsResponse{}, &RobotsError{
			Message:   "failed to parse robots.txt: " + err.Error(),
			Retryable: false,
			Cause:     ErrCauseParseError,
		}
	}
	return RobotsResponse{
		Host:     hostname,
		Sitemaps: extractSitemaps(content),
		data:     data,
		rawBody:  content,
	}, nil
}

// IsEmpty reports whether the response carries no parsed robots.txt data,
// which is the case for the synthetic "allow all" response constructed for
// 4xx robots.txt fetches.
func (r RobotsResponse) IsEmpty() bool {
	return r.data == nil
}

// extractSitemaps scans for Sitemap: directives. robotstxt.RobotsData does
// not expose these, so they're collected separately from the raw body.
func extractSitemaps(content []byte) []string {
	var sitemaps []string
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(field), "sitemap") {
			if v := strings.TrimSpace(value); v != "" {
				sitemaps = append(sitemaps, v)
			}
		}
	}
	return sitemaps
}
