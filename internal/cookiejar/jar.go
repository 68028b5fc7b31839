package cookiejar

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	tfcookiejar "github.com/telanflow/cookiejar"
	"golang.org/x/net/publicsuffix"
)

// Per spec.md section 3: cookies are capped at roughly 4 KiB each and 50 per
// registrable domain; expired cookies are purged at lookup time by the
// underlying jar (the same RFC 6265 behavior the standard library's
// net/http/cookiejar.Jar implements, which telanflow/cookiejar mirrors).
const (
	maxCookieBytes      = 4096
	maxCookiesPerDomain = 50
)

// Jar wraps telanflow/cookiejar's RFC 6265 jar with the two caps spec.md
// requires and aren't part of the upstream jar: per-cookie size and
// per-registrable-domain count. Lookup ordering (path length descending,
// creation time ascending) and expiry purge on read are inherited from the
// wrapped jar unchanged.
type Jar struct {
	mu     sync.Mutex
	inner  http.CookieJar
	counts map[string]int // registrable domain -> cookies currently held
}

func New() (*Jar, error) {
	inner, err := tfcookiejar.New(&tfcookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, &CookieJarError{Cause: ErrCauseJarInitFailed, Err: err}
	}
	return &Jar{inner: inner, counts: make(map[string]int)}, nil
}

// SetCookies filters out cookies that exceed the size cap or whose Domain
// attribute is itself a public suffix (spec.md: "rejects public-suffix
// domain attributes"), then enforces the per-domain count cap before
// delegating to the wrapped jar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	registrable := registrableDomain(u.Hostname())

	accepted := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if len(c.String()) > maxCookieBytes {
			continue
		}
		if c.Domain != "" && isPublicSuffix(strings.TrimPrefix(c.Domain, ".")) {
			continue
		}
		if j.counts[registrable] >= maxCookiesPerDomain {
			continue
		}
		accepted = append(accepted, c)
		j.counts[registrable]++
	}

	if len(accepted) > 0 {
		j.inner.SetCookies(u, accepted)
	}
}

// Cookies returns the cookies applicable to u, ordered by the wrapped jar's
// RFC 6265 rules.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

func isPublicSuffix(domain string) bool {
	suffix, icann := publicsuffix.PublicSuffix(domain)
	return icann && suffix == domain
}

func registrableDomain(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}
