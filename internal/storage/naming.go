package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rohmanhakim/warcling/internal/config"
)

// NamingPolicy derives on-disk paths for fetched resources from their URLs,
// implementing wget's local-file naming rules: host/protocol directories,
// --cut-dirs, --no-directories, --restrict-file-names, --max-filename-length,
// and anti-clobber collision suffixes. It also tracks content-hash -> path
// assignments so page-requisites shared by multiple pages are written once
// and reused everywhere else they're referenced, adapting the dedup idiom
// from the teacher's asset resolver to archival naming instead of markdown
// asset rewriting.
type NamingPolicy struct {
	cfg config.IOPolicy

	mu         sync.Mutex
	hashToPath map[string]string
}

func NewNamingPolicy(cfg config.IOPolicy) *NamingPolicy {
	return &NamingPolicy{
		cfg:        cfg,
		hashToPath: make(map[string]string),
	}
}

// LocalPath derives the on-disk path for u, relative to the policy's
// configured DirectoryPrefix.
func (p *NamingPolicy) LocalPath(u url.URL) string {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	lastSegment := "index.html"
	dirSegments := segments
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		dirSegments = segments[:len(segments)-1]
		if last != "" {
			lastSegment = last
		}
	}

	if p.cfg.CutDirs > 0 && len(dirSegments) > 0 {
		if p.cfg.CutDirs >= len(dirSegments) {
			dirSegments = nil
		} else {
			dirSegments = dirSegments[p.cfg.CutDirs:]
		}
	}

	parts := []string{p.cfg.DirectoryPrefix}

	if p.cfg.NoDirectories && !p.cfg.ForceDirectories {
		parts = append(parts, p.restrictName(lastSegment))
		return filepath.Join(parts...)
	}

	if p.cfg.ProtocolDirectories {
		parts = append(parts, p.restrictName(u.Scheme))
	}
	if !p.cfg.NoHostDirectories {
		parts = append(parts, p.restrictName(u.Hostname()))
	}
	for _, seg := range dirSegments {
		parts = append(parts, p.restrictName(seg))
	}
	parts = append(parts, p.restrictName(lastSegment))

	return filepath.Join(parts...)
}

// ReuseOrAssign returns the path previously assigned to contentHash, if any,
// so a page-requisite fetched through multiple referring pages is written to
// disk exactly once. Otherwise it computes and records LocalPath(u) as the
// path for contentHash.
func (p *NamingPolicy) ReuseOrAssign(contentHash string, u url.URL) (path string, reused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.hashToPath[contentHash]; ok {
		return existing, true
	}
	path = p.LocalPath(u)
	p.hashToPath[contentHash] = path
	return path, false
}

// ResolveCollision returns the path that should actually be written to for a
// candidate fullPath, given anti-clobber configuration:
//   - allowOverwrite (e.g. --timestamping decided the remote copy is newer,
//     or --continue is resuming the same file) writes straight to fullPath.
//   - NoClobber declines to write at all when fullPath already exists.
//   - otherwise, wget's numbered-suffix convention (name.1, name.2, ...)
//     finds the next free sibling.
func (p *NamingPolicy) ResolveCollision(fullPath string, allowOverwrite bool) (resolved string, skip bool, err error) {
	if allowOverwrite {
		return fullPath, false, nil
	}

	if _, statErr := os.Stat(fullPath); os.IsNotExist(statErr) {
		return fullPath, false, nil
	}

	if p.cfg.NoClobber {
		return fullPath, true, nil
	}

	const maxAttempts = 1000
	for i := 1; i <= maxAttempts; i++ {
		candidate := fmt.Sprintf("%s.%d", fullPath, i)
		if _, statErr := os.Stat(candidate); os.IsNotExist(statErr) {
			return candidate, false, nil
		}
	}
	return "", false, fmt.Errorf("exhausted %d collision suffixes for %s", maxAttempts, fullPath)
}

// restrictName applies --restrict-file-names and --max-filename-length to a
// single path segment.
func (p *NamingPolicy) restrictName(name string) string {
	if name == "" {
		return "_"
	}

	hasMode := func(mode string) bool {
		for _, m := range p.cfg.RestrictFileNames {
			if strings.EqualFold(m, mode) {
				return true
			}
		}
		return false
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20:
			b.WriteByte('_')
		case hasMode("nocontrol") && r == 0x7f:
			b.WriteByte('_')
		case hasMode("windows") && strings.ContainsRune(`\:*?"<>|`, r):
			b.WriteByte('_')
		case hasMode("ascii") && r > 0x7e:
			fmt.Fprintf(&b, "%%%02X", r)
		case r == '/':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	result := b.String()

	if hasMode("lower") {
		result = strings.ToLower(result)
	}
	if hasMode("upper") {
		result = strings.ToUpper(result)
	}

	if p.cfg.MaxFilenameLength > 0 && len(result) > p.cfg.MaxFilenameLength {
		ext := filepath.Ext(result)
		if len(ext) < p.cfg.MaxFilenameLength {
			base := result[:len(result)-len(ext)]
			keep := p.cfg.MaxFilenameLength - len(ext)
			result = base[:keep] + ext
		} else {
			result = result[:p.cfg.MaxFilenameLength]
		}
	}

	return result
}
