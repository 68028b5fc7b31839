package warc_test

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/internal/warc"
)

type fakeVisits struct {
	seen map[string]string // payloadDigest -> first recordID
}

func newFakeVisits() *fakeVisits {
	return &fakeVisits{seen: make(map[string]string)}
}

func (f *fakeVisits) RecordVisit(ctx context.Context, urlKey, payloadDigest, warcRecordID string) (string, bool, error) {
	if prior, ok := f.seen[payloadDigest]; ok {
		return prior, true, nil
	}
	f.seen[payloadDigest] = warcRecordID
	return "", false, nil
}

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return *u
}

func openTestWriter(t *testing.T, policy config.RecordingPolicy) *warc.Writer {
	t.Helper()
	w, err := warc.NewWriter(policy, metadata.NoopSink{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func readPart(t *testing.T, dir, prefix string, part int, gzipped bool) string {
	t.Helper()
	name := prefix + "-00000.warc"
	if gzipped {
		name += ".gz"
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read part file: %v", err)
	}
	return string(data)
}

func TestWriter_WriteResponse_UncompressedRecordIsWellFormed(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
		WARCDedup:         true,
	}
	w := openTestWriter(t, policy)

	target := mustURL(t, "https://example.com/index.html")
	id, isRevisit, err := w.WriteResponse(context.Background(), target, "example.com/index.html",
		[]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html></html>"),
		[]byte("<html></html>"), newFakeVisits(), "")
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if isRevisit {
		t.Fatalf("first write should not be a revisit")
	}
	if id == "" {
		t.Fatalf("expected a non-empty record id")
	}

	content := readPart(t, dir, "crawl", 0, false)
	if !strings.Contains(content, "WARC/1.0\r\n") {
		t.Fatalf("expected a WARC/1.0 version line, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Type: response") {
		t.Fatalf("expected WARC-Type: response, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Record-ID: <urn:uuid:"+id+">") {
		t.Fatalf("expected the record id to appear in the header, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Block-Digest: sha1:") {
		t.Fatalf("expected a block digest field, got: %q", content)
	}
}

func TestWriter_WriteResponse_DedupEmitsRevisit(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
		WARCDedup:         true,
	}
	w := openTestWriter(t, policy)
	visits := newFakeVisits()
	body := []byte("same payload every time")
	rawHTTP := []byte("HTTP/1.1 200 OK\r\n\r\nsame payload every time")

	firstID, firstRevisit, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/a"), "example.com/a", rawHTTP, body, visits, "")
	if err != nil {
		t.Fatalf("first WriteResponse: %v", err)
	}
	if firstRevisit {
		t.Fatalf("first visit of a payload must not be a revisit")
	}

	_, secondRevisit, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/b"), "example.com/b", rawHTTP, body, visits, "")
	if err != nil {
		t.Fatalf("second WriteResponse: %v", err)
	}
	if !secondRevisit {
		t.Fatalf("expected the second identical payload to be reported as a revisit")
	}

	content := readPart(t, dir, "crawl", 0, false)
	if !strings.Contains(content, "WARC-Type: revisit") {
		t.Fatalf("expected a revisit record in the output, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Refers-To: <urn:uuid:"+firstID+">") {
		t.Fatalf("expected WARC-Refers-To to reference the first record id, got: %q", content)
	}
}

func TestWriter_WriteResponse_DedupDisabledNeverRevisits(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
		WARCDedup:         false,
	}
	w := openTestWriter(t, policy)
	visits := newFakeVisits()
	body := []byte("identical body")
	rawHTTP := []byte("HTTP/1.1 200 OK\r\n\r\nidentical body")

	_, firstRevisit, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/a"), "example.com/a", rawHTTP, body, visits, "")
	if err != nil || firstRevisit {
		t.Fatalf("unexpected first result: revisit=%v err=%v", firstRevisit, err)
	}
	_, secondRevisit, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/b"), "example.com/b", rawHTTP, body, visits, "")
	if err != nil {
		t.Fatalf("second WriteResponse: %v", err)
	}
	if secondRevisit {
		t.Fatalf("dedup disabled: identical payload must still be written in full")
	}
}

func TestWriter_Rotation_SplitsAcrossParts(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
		WARCMaxSizeBytes:  1, // force a rotation on every record after the first
	}
	w := openTestWriter(t, policy)
	visits := newFakeVisits()

	for i := 0; i < 3; i++ {
		_, _, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/x"), "example.com/x",
			[]byte("HTTP/1.1 200 OK\r\n\r\nbody"), []byte("body"), visits, "")
		if err != nil {
			t.Fatalf("WriteResponse %d: %v", i, err)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "crawl-00001.warc")); err != nil {
		t.Fatalf("expected a second rotated part file to exist: %v", err)
	}
}

func TestWriter_CDX_WritesHeaderAndLines(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
		WARCCDX:           true,
	}
	w := openTestWriter(t, policy)

	_, _, err := w.WriteResponse(context.Background(), mustURL(t, "https://example.com/page"), "example.com/page",
		[]byte("HTTP/1.1 200 OK\r\n\r\nhello"), []byte("hello"), newFakeVisits(), "")
	if err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	w.Close()

	f, err := os.Open(filepath.Join(dir, "crawl.cdx"))
	if err != nil {
		t.Fatalf("open cdx: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 2 {
		t.Fatalf("expected a header line plus at least one record line, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "CDX ") {
		t.Fatalf("expected the CDX header line first, got: %q", lines[0])
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 11 {
		t.Fatalf("expected 11 space-separated CDX fields, got %d: %q", len(fields), lines[1])
	}
}

func TestWriter_WriteRequestAndMetadata(t *testing.T) {
	dir := t.TempDir()
	policy := config.RecordingPolicy{
		WARCFile:          filepath.Join(dir, "crawl"),
		NoWARCCompression: true,
	}
	w := openTestWriter(t, policy)

	reqID, err := w.WriteRequest(mustURL(t, "https://example.com/a"), nil, "")
	if err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if reqID == "" {
		t.Fatalf("expected a non-empty request record id")
	}

	metaID, err := w.WriteMetadata(mustURL(t, "https://example.com/a"), reqID, map[string]string{"fetchTimeMs": "12"})
	if err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if metaID == "" {
		t.Fatalf("expected a non-empty metadata record id")
	}

	content := readPart(t, dir, "crawl", 0, false)
	if !strings.Contains(content, "WARC-Type: request") {
		t.Fatalf("expected a request record, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Type: metadata") {
		t.Fatalf("expected a metadata record, got: %q", content)
	}
	if !strings.Contains(content, "WARC-Concurrent-To: <urn:uuid:"+reqID+">") {
		t.Fatalf("expected the metadata record to reference the request id, got: %q", content)
	}
}
