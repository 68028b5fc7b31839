package warc

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// CDXWriter appends one CDX line per archived record, in the classic
// 11-field space-separated layout: a massaged URL key, a sortable
// timestamp, the original URL, content type, status code, digest, a
// redirect placeholder, a meta-tags placeholder, record length, offset,
// and the WARC filename.
type CDXWriter struct {
	file *os.File
	w    *bufio.Writer
}

func newCDXWriter(path string) (*CDXWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &WARCError{Cause: ErrCauseOpenFailure, Err: err}
	}
	cdx := &CDXWriter{file: f, w: bufio.NewWriter(f)}
	if info, statErr := f.Stat(); statErr == nil && info.Size() == 0 {
		cdx.w.WriteString("CDX N b a m s k r M V g\n")
	}
	return cdx, nil
}

// WriteLine emits one CDX row for a just-written record. Resource and
// revisit records still produce a row so the index stays a complete map
// from URL to every part file that mentions it.
func (c *CDXWriter) WriteLine(meta RecordMeta) error {
	digest := meta.BlockDigest
	if digest == "" {
		digest = "-"
	}
	status := "-"
	if meta.StatusCode > 0 {
		status = fmt.Sprint(meta.StatusCode)
	}
	fields := []string{
		massageURLKey(meta.TargetURI),
		meta.Date.Format("20060102150405"),
		orDash(meta.TargetURI),
		orDash(meta.ContentType),
		status,
		digest,
		"-",
		"-",
		fmt.Sprint(meta.Length),
		fmt.Sprint(meta.Offset),
		orDash(meta.WARCFile),
	}
	if _, err := c.w.WriteString(strings.Join(fields, " ") + "\n"); err != nil {
		return &WARCError{Cause: ErrCauseWriteFailure, Err: err}
	}
	return nil
}

func (c *CDXWriter) Close() error {
	if err := c.w.Flush(); err != nil {
		return &WARCError{Cause: ErrCauseWriteFailure, Err: err}
	}
	return c.file.Close()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// massageURLKey lowercases the scheme and host and drops a leading "www."
// so the same site's records sort together regardless of capitalization,
// the usual SURT-lite treatment CDX consumers expect without pulling in a
// full SURT canonicalizer for a field no downstream component parses back.
func massageURLKey(rawURL string) string {
	if rawURL == "" {
		return "-"
	}
	key := strings.ToLower(rawURL)
	key = strings.TrimPrefix(key, "https://")
	key = strings.TrimPrefix(key, "http://")
	key = strings.TrimPrefix(key, "www.")
	return key
}
