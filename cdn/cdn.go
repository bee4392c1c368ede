// Package cdn provides concrete BlobSource implementations over TACT's
// published CDN layout (spec.md §6): a directory tree keyed by the first
// four hex characters of the content hash, <root>/<kind>/<aa>/<bb>/<hash>.
// Grounded on storage.go's openIndexStorage/openMMapFile (local vs. HTTP
// dispatch, mmap toggle) and the ReaderAtCloser abstraction used
// throughout the teacher's storage layer.
package cdn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpcpool/tact-cas/hash"
	"golang.org/x/exp/mmap"
)

// Kind names the CDN sub-tree a blob lives under ("data", "config",
// "patch" in real TACT deployments).
type Kind string

const (
	KindData   Kind = "data"
	KindConfig Kind = "config"
	KindPatch  Kind = "patch"
)

// layoutPath builds "<kind>/<aa>/<bb>/<hash>" from a hex-encoded hash,
// TACT's standard two-level fan-out directory shape.
func layoutPath(kind Kind, hexHash string) string {
	if len(hexHash) < 4 {
		return filepath.Join(string(kind), hexHash)
	}
	return filepath.Join(string(kind), hexHash[0:2], hexHash[2:4], hexHash)
}

// LocalSource resolves blobs from a local CDN-layout root directory.
type LocalSource struct {
	root    string
	kind    Kind
	useMmap bool
}

// NewLocalSource returns a BlobSource rooted at dir, matching
// storage.go's useMmapForLocalIndexes toggle.
func NewLocalSource(dir string, kind Kind, useMmap bool) *LocalSource {
	return &LocalSource{root: dir, kind: kind, useMmap: useMmap}
}

// Lookup implements cas.BlobSource.
func (s *LocalSource) Lookup(ekey hash.EKey) ([]byte, bool, error) {
	path := filepath.Join(s.root, layoutPath(s.kind, ekey.String()))
	if s.useMmap {
		r, err := mmap.Open(path)
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("cdn: mmap open %s: %w", path, err)
		}
		defer r.Close()
		data := make([]byte, r.Len())
		if _, err := r.ReadAt(data, 0); err != nil {
			return nil, false, fmt.Errorf("cdn: read %s: %w", path, err)
		}
		return data, true, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cdn: read %s: %w", path, err)
	}
	return data, true, nil
}

// HTTPSource resolves blobs from a remote TACT CDN host via HTTP GET
// requests against its standard layout path. Each Lookup fetches the whole
// blob; no Range header is sent.
type HTTPSource struct {
	client  *http.Client
	baseURL string
	kind    Kind
}

// NewHTTPSource returns an HTTP-backed BlobSource. baseURL should be the
// CDN host root (e.g. "http://level3.blizzard.com/tpr/wow").
func NewHTTPSource(client *http.Client, baseURL string, kind Kind) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{client: client, baseURL: strings.TrimRight(baseURL, "/"), kind: kind}
}

// Lookup implements cas.BlobSource, issuing a GET for the blob's CDN path.
func (s *HTTPSource) Lookup(ekey hash.EKey) ([]byte, bool, error) {
	url := s.baseURL + "/" + filepath.ToSlash(layoutPath(s.kind, ekey.String()))
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("cdn: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("cdn: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, false, fmt.Errorf("cdn: unexpected status %d for %s", resp.StatusCode, url)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("cdn: read body %s: %w", url, err)
	}
	return data, true, nil
}
