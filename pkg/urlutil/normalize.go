package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/idna"
)

// Normalized is the pair of representations produced for every URL the
// frontier ever sees: the form that actually goes on the wire, and the
// form used purely for deduplication.
type Normalized struct {
	// FetchURL is what the fetcher sends: scheme/host lowercased and
	// IDN-converted, dot-segments resolved, query preserved in its
	// original item order, fragment preserved for in-page anchors.
	FetchURL string
	// Key is the dedup key: FetchURL with the fragment and query stripped
	// and run through Canonicalize, so two URLs that only differ by
	// tracking parameters or a trailing slash collapse to one frontier row.
	Key string
}

// InvalidURLError is returned by Normalize when the input cannot be parsed
// as a URL at all.
type InvalidURLError struct {
	Raw   string
	Cause error
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %v", e.Raw, e.Cause)
}

func (e *InvalidURLError) Unwrap() error { return e.Cause }

// Normalize parses raw (optionally resolved against base, for URLs found
// while parsing a page) and produces both wire and dedup forms.
func Normalize(raw string, base *url.URL) (Normalized, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Normalized{}, &InvalidURLError{Raw: raw, Cause: err}
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Host == "" && parsed.Scheme != "" {
		return Normalized{}, &InvalidURLError{Raw: raw, Cause: fmt.Errorf("missing host")}
	}

	fetch := *parsed
	fetch.Scheme = lowerASCII(fetch.Scheme)

	host, err := normalizeHost(fetch.Host)
	if err != nil {
		return Normalized{}, &InvalidURLError{Raw: raw, Cause: err}
	}
	fetch.Host = host

	fetch.Path = resolveDotSegments(fetch.Path)
	fetch.Path = percentEncodeNonASCII(fetch.Path)

	key := Canonicalize(fetch)

	return Normalized{
		FetchURL: fetch.String(),
		Key:      key.String(),
	}, nil
}

// normalizeHost lowercases the hostname, IDN-encodes it to A-labels, and
// re-brackets IPv6 literals. Any port, default or not, is kept; Canonicalize
// drops default ports from the dedup key.
func normalizeHost(hostport string) (string, error) {
	if hostport == "" {
		return "", nil
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port present; SplitHostPort errors in that case.
		host = hostport
		port = ""
	}

	isIPv6 := strings.Contains(host, ":") || strings.HasPrefix(host, "[")
	host = strings.Trim(host, "[]")

	if isIPv6 {
		ip := net.ParseIP(host)
		if ip == nil {
			return "", fmt.Errorf("invalid IPv6 host %q", host)
		}
		host = "[" + ip.String() + "]"
	} else {
		host = lowerASCII(host)
		if requiresIDNA(host) {
			aLabel, err := idna.Lookup.ToASCII(host)
			if err != nil {
				return "", fmt.Errorf("invalid IDN host %q: %w", host, err)
			}
			host = aLabel
		}
	}

	if port == "" {
		return host, nil
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port), nil
}

func requiresIDNA(host string) bool {
	for i := 0; i < len(host); i++ {
		if host[i] >= 0x80 {
			return true
		}
	}
	return false
}

// resolveDotSegments applies RFC 3986 §5.2.4 remove_dot_segments and
// collapses consecutive slashes, via path.Clean which implements the same
// algorithm for POSIX-style paths.
func resolveDotSegments(p string) string {
	if p == "" {
		return p
	}
	trailingSlash := strings.HasSuffix(p, "/") && p != "/"
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	if trailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

// percentEncodeNonASCII re-encodes any raw non-ASCII byte in an already
// UTF-8 path as %XX, leaving already-percent-encoded sequences untouched.
func percentEncodeNonASCII(p string) string {
	var needsEncode bool
	for i := 0; i < len(p); i++ {
		if p[i] >= 0x80 {
			needsEncode = true
			break
		}
	}
	if !needsEncode {
		return p
	}

	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c < 0x80 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
