package warc

import "time"

// RecordType is the value of the WARC-Type header field, per the ISO 28500
// record taxonomy. Only the subset the crawler emits is listed here.
type RecordType string

const (
	RecordTypeWARCInfo RecordType = "warcinfo"
	RecordTypeRequest  RecordType = "request"
	RecordTypeResponse RecordType = "response"
	RecordTypeResource RecordType = "resource"
	RecordTypeMetadata RecordType = "metadata"
	RecordTypeRevisit  RecordType = "revisit"
)

// Header field names used when building a record's header block. Named as
// constants rather than inlined so writer.go and cdx.go never drift on
// casing.
const (
	fieldWARCType          = "WARC-Type"
	fieldWARCRecordID      = "WARC-Record-ID"
	fieldWARCDate          = "WARC-Date"
	fieldWARCTargetURI     = "WARC-Target-URI"
	fieldWARCWarcinfoID    = "WARC-Warcinfo-ID"
	fieldWARCConcurrentTo  = "WARC-Concurrent-To"
	fieldWARCBlockDigest   = "WARC-Block-Digest"
	fieldWARCPayloadDigest = "WARC-Payload-Digest"
	fieldWARCRefersTo      = "WARC-Refers-To"
	fieldWARCTruncated     = "WARC-Truncated"
	fieldWARCProfile       = "WARC-Profile"
	fieldContentType       = "Content-Type"
	fieldContentLength     = "Content-Length"
)

// revisitProfileDigest identifies the dedup comparison used when emitting a
// revisit record; the crawler always compares full payload digests, never
// server-supplied validators, so only one profile is needed.
const revisitProfileDigest = "http://netpreserve.org/warc/1.0/revisit/identical-payload-digest"

const (
	contentTypeHTTPRequest  = "application/http; msgtype=request"
	contentTypeHTTPResponse = "application/http; msgtype=response"
	contentTypeWARCFields   = "application/warc-fields"
)

// RecordMeta carries the fields writer.go needs to build a header block and
// cdx.go needs to emit a matching CDX line, independent of the record's
// payload.
type RecordMeta struct {
	RecordID     string
	Type         RecordType
	Date         time.Time
	TargetURI    string
	ContentType  string
	StatusCode   int
	BlockDigest  string
	PayloadDigest string
	Offset       int64
	Length       int64
	WARCFile     string
}
