package warc

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/internal/metadata"
)

// VisitRecorder is the subset of frontier.Frontier the writer needs to
// resolve revisit dedup, scoped down so this package doesn't take on the
// frontier's full admission/scheduling surface.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, urlKey, payloadDigest, warcRecordID string) (string, bool, error)
}

// Writer owns one active WARC file plus a journal file recording the byte
// offset of any write in flight, so a crash mid-append leaves a non-empty
// journal behind and the next open refuses to proceed. Nothing truncates the
// torn tail automatically.
type Writer struct {
	policy   config.RecordingPolicy
	metaSink metadata.MetadataSink

	dir     string
	prefix  string
	gzip    bool
	maxSize int64
	part    int
	curSize int64

	file    *os.File
	journal *os.File

	cdx *CDXWriter

	warcinfoID string
}

// NewWriter opens (or creates) the first part file for the given recording
// policy and writes a warcinfo record describing this crawl session.
func NewWriter(policy config.RecordingPolicy, sink metadata.MetadataSink) (*Writer, error) {
	if policy.WARCFile == "" {
		return nil, &WARCError{Cause: ErrCauseOpenFailure, Err: fmt.Errorf("no WARC file prefix configured")}
	}
	dir := filepath.Dir(policy.WARCFile)
	prefix := filepath.Base(policy.WARCFile)

	w := &Writer{
		policy:   policy,
		metaSink: sink,
		dir:      dir,
		prefix:   prefix,
		gzip:     !policy.NoWARCCompression,
		maxSize:  policy.WARCMaxSizeBytes,
	}

	if policy.WARCCDX {
		cdx, err := newCDXWriter(w.cdxPath())
		if err != nil {
			return nil, err
		}
		w.cdx = cdx
	}

	if err := w.openPart(policy.WARCAppend); err != nil {
		return nil, err
	}

	id, err := w.writeWARCInfo()
	if err != nil {
		return nil, err
	}
	w.warcinfoID = id
	return w, nil
}

func (w *Writer) cdxPath() string {
	return filepath.Join(w.dir, w.prefix+".cdx")
}

func (w *Writer) partPath(part int) string {
	name := fmt.Sprintf("%s-%05d.warc", w.prefix, part)
	if w.gzip {
		name += ".gz"
	}
	return filepath.Join(w.dir, name)
}

func (w *Writer) journalPath() string {
	return filepath.Join(w.dir, w.prefix+".journal")
}

// newError wraps the given cause/err into a WARCError and mirrors it to the
// metadata sink, the same observational-mirroring pattern
// internal/redirect.Tracker.recordErr uses.
func (w *Writer) newError(cause WARCErrorCause, err error) *WARCError {
	wErr := &WARCError{Cause: cause, Err: err}
	if w.metaSink != nil {
		w.metaSink.RecordError(time.Now(), "warc", "write", mapWARCErrorToMetadataCause(wErr), wErr.Error(), nil)
	}
	return wErr
}

func (w *Writer) openPart(appendExisting bool) error {
	if info, statErr := os.Stat(w.journalPath()); statErr == nil && info.Size() > 0 {
		return w.newError(ErrCauseJournalStale, fmt.Errorf("%s records an unfinished append", w.journalPath()))
	}
	if !appendExisting {
		// Never overwrite an earlier part: move on to the next free number.
		for {
			if _, statErr := os.Stat(w.partPath(w.part)); os.IsNotExist(statErr) {
				break
			}
			w.part++
		}
	}
	path := w.partPath(w.part)
	flags := os.O_CREATE | os.O_WRONLY
	if appendExisting {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return w.newError(ErrCauseOpenFailure, err)
	}
	w.curSize = 0
	if appendExisting {
		if info, statErr := f.Stat(); statErr == nil {
			w.curSize = info.Size()
		}
	}
	w.file = f

	journal, err := os.OpenFile(w.journalPath(), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		f.Close()
		return w.newError(ErrCauseOpenFailure, err)
	}
	w.journal = journal
	return nil
}

// rotateIfNeeded opens the next part file once the active one would cross
// the configured max size. A single record is never split across parts.
func (w *Writer) rotateIfNeeded(nextRecordLen int64) error {
	if w.maxSize <= 0 {
		return nil
	}
	if w.curSize == 0 || w.curSize+nextRecordLen <= w.maxSize {
		return nil
	}
	if err := w.closeActivePart(); err != nil {
		return w.newError(ErrCauseRotateFailure, err)
	}
	w.part++
	if err := w.openPart(false); err != nil {
		return w.newError(ErrCauseRotateFailure, err)
	}
	return nil
}

func (w *Writer) closeActivePart() error {
	return w.file.Close()
}

// WriteRequest records the outbound HTTP request that preceded a response,
// linked to it via WARC-Concurrent-To.
func (w *Writer) WriteRequest(targetURI url.URL, req *http.Request, concurrentTo string) (string, error) {
	var raw bytes.Buffer
	if req != nil {
		if err := req.Write(&raw); err != nil {
			return "", w.newError(ErrCauseWriteFailure, err)
		}
	}
	meta := RecordMeta{
		RecordID:    newRecordID(),
		Type:        RecordTypeRequest,
		Date:        time.Now().UTC(),
		TargetURI:   targetURI.String(),
		ContentType: contentTypeHTTPRequest,
	}
	extra := map[string]string{fieldWARCConcurrentTo: concurrentTo}
	return w.writeRecord(meta, raw.Bytes(), extra)
}

// WriteResponse records a fetched HTTP response. When dedup is enabled and
// visits reports this payload digest as already recorded (for any URL), a
// revisit record is written instead of the full body.
func (w *Writer) WriteResponse(
	ctx context.Context,
	targetURI url.URL,
	urlKey string,
	rawHTTP []byte,
	payload []byte,
	visits VisitRecorder,
	concurrentTo string,
) (recordID string, isRevisit bool, err error) {
	recordID = newRecordID()
	payloadDigest := digestPayload(payload)

	if w.policy.WARCDedup && visits != nil {
		priorID, found, lookupErr := visits.RecordVisit(ctx, urlKey, payloadDigest, recordID)
		if lookupErr != nil {
			return "", false, w.newError(ErrCauseRevisitLookup, lookupErr)
		}
		if found {
			id, writeErr := w.writeRevisit(targetURI, recordID, priorID, payloadDigest, concurrentTo)
			return id, true, writeErr
		}
	}

	meta := RecordMeta{
		RecordID:      recordID,
		Type:          RecordTypeResponse,
		Date:          time.Now().UTC(),
		TargetURI:     targetURI.String(),
		ContentType:   contentTypeHTTPResponse,
		PayloadDigest: payloadDigest,
	}
	extra := map[string]string{}
	if concurrentTo != "" {
		extra[fieldWARCConcurrentTo] = concurrentTo
	}
	if !w.policy.NoWARCDigests {
		extra[fieldWARCPayloadDigest] = "sha1:" + payloadDigest
	}
	id, writeErr := w.writeRecord(meta, rawHTTP, extra)
	return id, false, writeErr
}

func (w *Writer) writeRevisit(targetURI url.URL, recordID, refersTo, payloadDigest, concurrentTo string) (string, error) {
	meta := RecordMeta{
		RecordID:      recordID,
		Type:          RecordTypeRevisit,
		Date:          time.Now().UTC(),
		TargetURI:     targetURI.String(),
		ContentType:   contentTypeHTTPResponse,
		PayloadDigest: payloadDigest,
	}
	extra := map[string]string{
		fieldWARCProfile:  revisitProfileDigest,
		fieldWARCRefersTo: refersTo,
	}
	if concurrentTo != "" {
		extra[fieldWARCConcurrentTo] = concurrentTo
	}
	if !w.policy.NoWARCDigests {
		extra[fieldWARCPayloadDigest] = "sha1:" + payloadDigest
	}
	return w.writeRecord(meta, nil, extra)
}

// WriteResource records a non-HTTP-transactional artifact, such as a
// synthesized sitemap listing or a generated directory index page.
func (w *Writer) WriteResource(targetURI url.URL, contentType string, body []byte) (string, error) {
	meta := RecordMeta{
		RecordID:    newRecordID(),
		Type:        RecordTypeResource,
		Date:        time.Now().UTC(),
		TargetURI:   targetURI.String(),
		ContentType: contentType,
	}
	return w.writeRecord(meta, body, nil)
}

// WriteMetadata records crawler-internal bookkeeping (e.g. extracted link
// counts) as an application/warc-fields block associated with a prior record.
func (w *Writer) WriteMetadata(targetURI url.URL, concurrentTo string, fields map[string]string) (string, error) {
	var buf bytes.Buffer
	for k, v := range fields {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	meta := RecordMeta{
		RecordID:    newRecordID(),
		Type:        RecordTypeMetadata,
		Date:        time.Now().UTC(),
		TargetURI:   targetURI.String(),
		ContentType: contentTypeWARCFields,
	}
	extra := map[string]string{}
	if concurrentTo != "" {
		extra[fieldWARCConcurrentTo] = concurrentTo
	}
	return w.writeRecord(meta, buf.Bytes(), extra)
}

func (w *Writer) writeWARCInfo() (string, error) {
	fields := map[string]string{
		"software": "warcling/1.0",
		"format":   "WARC File Format 1.0",
	}
	for k, v := range w.policy.WARCHeaderFields {
		fields[k] = v
	}
	var buf bytes.Buffer
	for k, v := range fields {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	meta := RecordMeta{
		RecordID:    newRecordID(),
		Type:        RecordTypeWARCInfo,
		Date:        time.Now().UTC(),
		ContentType: contentTypeWARCFields,
	}
	return w.writeRecord(meta, buf.Bytes(), nil)
}

// writeRecord builds the header block for meta, appends the block digest,
// rotates the active part first if needed, marks the journal before the
// append and clears it after, and emits a matching CDX line.
func (w *Writer) writeRecord(meta RecordMeta, block []byte, extra map[string]string) (string, error) {
	header := w.buildHeader(meta, block, extra)
	full := append(header, block...)

	if err := w.rotateIfNeeded(int64(len(full))); err != nil {
		return "", err
	}
	if err := w.markJournal(); err != nil {
		return "", err
	}

	offset := w.curSize
	n, err := w.appendBytes(full)
	if err != nil {
		return "", w.newError(ErrCauseWriteFailure, err)
	}
	w.curSize += int64(n)

	if err := w.clearJournal(); err != nil {
		return "", err
	}

	if w.cdx != nil {
		meta.Offset = offset
		meta.Length = int64(n)
		meta.WARCFile = filepath.Base(w.partPath(w.part))
		meta.BlockDigest = digestPayload(block)
		if err := w.cdx.WriteLine(meta); err != nil {
			return "", err
		}
	}
	return meta.RecordID, nil
}

func (w *Writer) buildHeader(meta RecordMeta, block []byte, extra map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString("WARC/1.0\r\n")
	fmt.Fprintf(&buf, "%s: %s\r\n", fieldWARCType, meta.Type)
	fmt.Fprintf(&buf, "%s: <urn:uuid:%s>\r\n", fieldWARCRecordID, meta.RecordID)
	fmt.Fprintf(&buf, "%s: %s\r\n", fieldWARCDate, meta.Date.Format(time.RFC3339Nano))
	if meta.TargetURI != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", fieldWARCTargetURI, meta.TargetURI)
	}
	if w.warcinfoID != "" && meta.Type != RecordTypeWARCInfo {
		fmt.Fprintf(&buf, "%s: <urn:uuid:%s>\r\n", fieldWARCWarcinfoID, w.warcinfoID)
	}
	if meta.ContentType != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", fieldContentType, meta.ContentType)
	}
	fmt.Fprintf(&buf, "%s: %d\r\n", fieldContentLength, len(block))
	if !w.policy.NoWARCDigests {
		fmt.Fprintf(&buf, "%s: sha1:%s\r\n", fieldWARCBlockDigest, digestPayload(block))
	}
	for k, v := range extra {
		if v == "" {
			continue
		}
		if k == fieldWARCConcurrentTo || k == fieldWARCRefersTo {
			fmt.Fprintf(&buf, "%s: <urn:uuid:%s>\r\n", k, v)
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// appendBytes writes full to the active part, through an independent gzip
// member when compression is enabled, and returns the number of file bytes
// consumed so offset bookkeeping stays accurate for CDX lines.
func (w *Writer) appendBytes(full []byte) (int, error) {
	if !w.gzip {
		return w.file.Write(full)
	}
	before, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(w.file)
	if _, err := gz.Write(full); err != nil {
		return 0, err
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	after, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return int(after - before), nil
}

// markJournal and clearJournal bracket an in-flight append so a process that
// dies mid-write leaves the journal holding the torn offset, which makes the
// next open refuse to proceed.
func (w *Writer) markJournal() error {
	if _, err := w.journal.Seek(0, 0); err != nil {
		return w.newError(ErrCauseJournalStale, err)
	}
	if err := w.journal.Truncate(0); err != nil {
		return w.newError(ErrCauseJournalStale, err)
	}
	if _, err := fmt.Fprintf(w.journal, "%d\n", w.curSize); err != nil {
		return w.newError(ErrCauseJournalStale, err)
	}
	return w.journal.Sync()
}

func (w *Writer) clearJournal() error {
	if err := w.journal.Truncate(0); err != nil {
		return w.newError(ErrCauseJournalStale, err)
	}
	return w.journal.Sync()
}

// Close flushes and closes the active part, the journal, and the CDX writer.
func (w *Writer) Close() error {
	if w.cdx != nil {
		w.cdx.Close()
	}
	w.journal.Close()
	return w.closeActivePart()
}

func newRecordID() string {
	return uuid.NewString()
}

func digestPayload(data []byte) string {
	sum := sha1.Sum(data)
	return base32.StdEncoding.EncodeToString(sum[:])
}
