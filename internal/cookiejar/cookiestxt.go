package cookiejar

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadCookiesTxt reads a Netscape/Mozilla cookies.txt file and installs its
// entries into the jar, for --load-cookies.
func (j *Jar) LoadCookiesTxt(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &CookieJarError{Cause: ErrCauseCookiesTxtIO, Err: err}
	}
	defer f.Close()

	byHost := make(map[string][]*http.Cookie)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}
		domain, _, path, secureStr, expiryStr, name, value := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]

		expiry, err := strconv.ParseInt(expiryStr, 10, 64)
		if err != nil {
			return &CookieJarError{Cause: ErrCauseCookiesTxtForm, Err: fmt.Errorf("bad expiry %q", expiryStr)}
		}

		c := &http.Cookie{
			Name:   name,
			Value:  value,
			Path:   path,
			Domain: domain,
			Secure: strings.EqualFold(secureStr, "TRUE"),
		}
		if expiry > 0 {
			c.Expires = time.Unix(expiry, 0)
		}

		host := strings.TrimPrefix(domain, ".")
		byHost[host] = append(byHost[host], c)
	}
	if err := scanner.Err(); err != nil {
		return &CookieJarError{Cause: ErrCauseCookiesTxtIO, Err: err}
	}

	for host, cookies := range byHost {
		u := &url.URL{Scheme: "https", Host: host, Path: "/"}
		j.SetCookies(u, cookies)
	}
	return nil
}

// SaveCookiesTxt writes every cookie currently held for the given hosts (the
// set of hosts the crawl actually visited) to path in Netscape cookies.txt
// format, for --save-cookies. The jar has no global enumeration API, so
// callers must supply the hosts to flush.
func (j *Jar) SaveCookiesTxt(path string, hosts []string) error {
	f, err := os.Create(path)
	if err != nil {
		return &CookieJarError{Cause: ErrCauseCookiesTxtIO, Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "# Netscape HTTP Cookie File")
	fmt.Fprintln(w, "# generated by warcling; edits will be overwritten")

	for _, host := range hosts {
		u := &url.URL{Scheme: "https", Host: host, Path: "/"}
		for _, c := range j.Cookies(u) {
			domain := c.Domain
			if domain == "" {
				domain = host
			}
			domainSpecified := "FALSE"
			if strings.HasPrefix(domain, ".") {
				domainSpecified = "TRUE"
			}
			path := c.Path
			if path == "" {
				path = "/"
			}
			secure := "FALSE"
			if c.Secure {
				secure = "TRUE"
			}
			var expiry int64
			if !c.Expires.IsZero() {
				expiry = c.Expires.Unix()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				domain, domainSpecified, path, secure, expiry, c.Name, c.Value)
		}
	}

	return w.Flush()
}
