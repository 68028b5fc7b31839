package storage

import (
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rohmanhakim/warcling/internal/metadata"
	"github.com/rohmanhakim/warcling/pkg/failure"
	"github.com/rohmanhakim/warcling/pkg/fileutil"
)

/*
Responsibilities
- Materialize fetched bytes under the local output tree
- Ensure deterministic, wget-compatible filenames
- Honor anti-clobber, --continue and --timestamping rules
- Deduplicate page-requisites shared across multiple referring pages

Output Characteristics
- Stable directory layout driven by NamingPolicy
- Idempotent writes (NoClobber/overwrite are explicit, never implicit)
- Resumable via ExistingSize + ResumeOffset
*/

// WriteOptions parameterizes one Sink.Write call.
type WriteOptions struct {
	// ContentHash, when non-empty, identifies this write as a page-requisite:
	// if a prior write already used this hash, that path is reused and no
	// bytes are touched.
	ContentHash string

	// ResumeOffset, when > 0, means body is only the tail fetched via Range
	// and should be appended starting at that file offset (--continue).
	ResumeOffset int64

	// AllowOverwrite bypasses the numbered-suffix/anti-clobber rules,
	// because --timestamping already decided the remote copy is newer or
	// because this call is completing a --continue resume.
	AllowOverwrite bool
}

type Sink interface {
	Write(targetURL url.URL, body []byte, opts WriteOptions) (WriteResult, failure.ClassifiedError)
	ExistingSize(targetURL url.URL) (int64, bool)
	ShouldSkipByTimestamp(targetURL url.URL, remoteLastModified time.Time) bool
}

type LocalSink struct {
	metadataSink metadata.MetadataSink
	naming       *NamingPolicy
}

func NewLocalSink(metadataSink metadata.MetadataSink, naming *NamingPolicy) LocalSink {
	return LocalSink{
		metadataSink: metadataSink,
		naming:       naming,
	}
}

func (s *LocalSink) Write(targetURL url.URL, body []byte, opts WriteOptions) (WriteResult, failure.ClassifiedError) {
	writeResult, err := s.write(targetURL, body, opts)
	if err != nil {
		var storageError *StorageError
		errors.As(err, &storageError)
		s.metadataSink.RecordError(
			time.Now(),
			"storage",
			"LocalSink.Write",
			mapStorageErrorToMetadataCause(storageError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, targetURL.String()),
				metadata.NewAttr(metadata.AttrWritePath, storageError.Path),
			},
		)
		return WriteResult{}, storageError
	}
	if !writeResult.Reused() && !writeResult.Skipped() {
		s.metadataSink.RecordArtifact(
			metadata.ArtifactResource,
			writeResult.Path(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrWritePath, writeResult.Path()),
				metadata.NewAttr(metadata.AttrURL, targetURL.String()),
				metadata.NewAttr(metadata.AttrField, writeResult.ContentHash()),
			},
		)
	}
	return writeResult, nil
}

func (s *LocalSink) write(targetURL url.URL, body []byte, opts WriteOptions) (WriteResult, failure.ClassifiedError) {
	var fullPath string
	if opts.ContentHash != "" {
		reusedPath, reused := s.naming.ReuseOrAssign(opts.ContentHash, targetURL)
		if reused {
			return NewWriteResult(reusedPath, 0, opts.ContentHash, true, false), nil
		}
		fullPath = reusedPath
	} else {
		fullPath = s.naming.LocalPath(targetURL)
	}

	if err := fileutil.EnsureDir(filepath.Dir(fullPath)); err != nil {
		var fileErr *fileutil.FileError
		errors.As(err, &fileErr)
		return WriteResult{}, &StorageError{
			Message:   fileErr.Error(),
			Retryable: false,
			Cause:     ErrCausePathError,
			Path:      filepath.Dir(fullPath),
		}
	}

	resolvedPath, skip, resolveErr := s.naming.ResolveCollision(fullPath, opts.AllowOverwrite || opts.ResumeOffset > 0)
	if resolveErr != nil {
		return WriteResult{}, &StorageError{
			Message:   resolveErr.Error(),
			Retryable: false,
			Cause:     ErrCauseCollisionExhausted,
			Path:      fullPath,
		}
	}
	if skip {
		return NewWriteResult(resolvedPath, 0, opts.ContentHash, false, true), nil
	}

	if opts.ResumeOffset > 0 {
		if err := appendAt(resolvedPath, opts.ResumeOffset, body); err != nil {
			return WriteResult{}, classifyWriteErr(err, resolvedPath)
		}
	} else if err := os.WriteFile(resolvedPath, body, 0644); err != nil {
		return WriteResult{}, classifyWriteErr(err, resolvedPath)
	}

	return NewWriteResult(resolvedPath, int64(len(body)), opts.ContentHash, false, false), nil
}

// ExistingSize returns the size of whatever is already on disk at targetURL's
// derived path, for callers deciding whether to issue a Range request under
// --continue.
func (s *LocalSink) ExistingSize(targetURL url.URL) (int64, bool) {
	info, err := os.Stat(s.naming.LocalPath(targetURL))
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// ShouldSkipByTimestamp implements --timestamping: the fetch is skipped
// entirely when the local copy is at least as new as remoteLastModified.
func (s *LocalSink) ShouldSkipByTimestamp(targetURL url.URL, remoteLastModified time.Time) bool {
	info, err := os.Stat(s.naming.LocalPath(targetURL))
	if err != nil {
		return false
	}
	return !info.ModTime().Before(remoteLastModified)
}

func appendAt(path string, offset int64, tail []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err = f.Write(tail)
	return err
}

func classifyWriteErr(err error, path string) *StorageError {
	cause := ErrCauseWriteFailure
	retryable := false
	if errors.Is(err, syscall.ENOSPC) {
		cause = ErrCauseDiskFull
		retryable = true
	}
	return &StorageError{
		Message:   err.Error(),
		Retryable: retryable,
		Cause:     cause,
		Path:      path,
	}
}
