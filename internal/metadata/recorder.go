package metadata

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)

Metadata emission is observational only. A MetadataSink implementation must
never be consulted to decide retry, continuation, or abort behavior - that
decision belongs to the caller, which has already made it by the time it
calls Record*.
*/

import (
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
)

// Recorder is the logrus-backed MetadataSink/CrawlFinalizer used outside
// tests. workerID tags every log line so interleaved concurrent workers can
// be told apart in a shared log stream.
type Recorder struct {
	log      *logrus.Logger
	workerID string
}

// NewRecorder builds a Recorder that logs structured JSON to stderr.
func NewRecorder(workerID string) Recorder {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	return Recorder{log: log, workerID: workerID}
}

// WithLogFile redirects the recorder's output to a daily-rotated file
// following pattern (a strftime-style path, e.g. "/var/log/warcling.%Y%m%d.log").
func (r Recorder) WithLogFile(pattern string, maxAge, rotationTime time.Duration) (Recorder, error) {
	writer, err := rotatelogs.New(
		pattern,
		rotatelogs.WithMaxAge(maxAge),
		rotatelogs.WithRotationTime(rotationTime),
	)
	if err != nil {
		return r, err
	}
	r.log.SetOutput(writer)
	return r, nil
}

func (r *Recorder) fields() logrus.Fields {
	return logrus.Fields{"worker": r.workerID}
}

// RecordError logs a classified failure observed by packageName during action.
func (r *Recorder) RecordError(
	observedAt time.Time,
	packageName string,
	action string,
	cause ErrorCause,
	details string,
	attrs []Attribute,
) {
	fields := r.fields()
	fields["observed_at"] = observedAt
	fields["package"] = packageName
	fields["action"] = action
	fields["cause"] = cause
	for _, a := range attrs {
		fields[string(a.Key)] = a.Value
	}
	r.log.WithFields(fields).Error(details)
}

// RecordFetch logs the outcome of a page fetch.
func (r *Recorder) RecordFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	contentType string,
	retryCount int,
	crawlDepth int,
) {
	r.log.WithFields(logrus.Fields{
		"worker":       r.workerID,
		string(AttrURL): fetchUrl,
		"http_status":  httpStatus,
		"duration_ms":  duration.Milliseconds(),
		"content_type": contentType,
		"retry_count":  retryCount,
		"crawl_depth":  crawlDepth,
	}).Info("fetch")
}

// RecordAssetFetch logs the outcome of a page-requisite fetch.
func (r *Recorder) RecordAssetFetch(
	fetchUrl string,
	httpStatus int,
	duration time.Duration,
	retryCount int,
) {
	r.log.WithFields(logrus.Fields{
		"worker":          r.workerID,
		string(AttrAssetURL): fetchUrl,
		"http_status":     httpStatus,
		"duration_ms":     duration.Milliseconds(),
		"retry_count":     retryCount,
	}).Info("asset_fetch")
}

// RecordArtifact logs that something was persisted to disk.
func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	fields := r.fields()
	fields["kind"] = string(kind)
	fields["path"] = path
	for _, a := range attrs {
		fields[string(a.Key)] = a.Value
	}
	r.log.WithFields(fields).Info("artifact")
}

// RecordFinalCrawlStats logs the terminal summary of a completed crawl.
func (r *Recorder) RecordFinalCrawlStats(
	totalPages int,
	totalErrors int,
	totalAssets int,
	duration time.Duration,
) {
	r.log.WithFields(logrus.Fields{
		"worker":       r.workerID,
		"total_pages":  totalPages,
		"total_errors": totalErrors,
		"total_assets": totalAssets,
		"duration_ms":  duration.Milliseconds(),
	}).Info("crawl_finished")
}

// NoopSink discards every call. Used by tests and by call sites that were
// not handed a recorder (e.g. one-off CLI subcommands that don't run a full
// crawl).
type NoopSink struct{}

func (NoopSink) RecordError(time.Time, string, string, ErrorCause, string, []Attribute) {}
func (NoopSink) RecordFetch(string, int, time.Duration, string, int, int)               {}
func (NoopSink) RecordArtifact(ArtifactKind, string, []Attribute)                       {}
func (NoopSink) RecordAssetFetch(string, int, time.Duration, int)                       {}
func (NoopSink) RecordFinalCrawlStats(int, int, int, time.Duration)                     {}
