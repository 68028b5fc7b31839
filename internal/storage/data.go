package storage

// Persistence

// WriteResult describes the outcome of materializing one fetched resource
// to the local filesystem.
type WriteResult struct {
	path        string
	bytes       int64
	contentHash string
	reused      bool // path was an existing page-requisite write, no bytes touched
	skipped     bool // anti-clobber or timestamping declined the write
}

func NewWriteResult(path string, bytesWritten int64, contentHash string, reused bool, skipped bool) WriteResult {
	return WriteResult{
		path:        path,
		bytes:       bytesWritten,
		contentHash: contentHash,
		reused:      reused,
		skipped:     skipped,
	}
}

func (w *WriteResult) Path() string {
	return w.path
}

func (w *WriteResult) BytesWritten() int64 {
	return w.bytes
}

func (w *WriteResult) ContentHash() string {
	return w.contentHash
}

// Reused reports whether Path was produced by a prior write for the same
// content hash rather than by this call.
func (w *WriteResult) Reused() bool {
	return w.reused
}

// Skipped reports whether an anti-clobber or timestamping rule declined to
// write at all, leaving whatever was already on disk untouched.
func (w *WriteResult) Skipped() bool {
	return w.skipped
}
