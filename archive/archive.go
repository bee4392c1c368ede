// Package archive implements TACT's archive blobs and the staging/packing
// engine that fills them (spec.md §4.3), in the spirit of the teacher's
// gsfaprimary flat-file store: content-addressed records packed
// sequentially into size-capped blob files, each described by a companion
// ".index" file.
package archive

import (
	"fmt"
	"io"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/internal/obs"
	"github.com/rpcpool/tact-cas/tacterr"
	"github.com/rpcpool/tact-cas/tactindex"
	"golang.org/x/exp/mmap"
)

var log = logging.Logger("tact/archive")

// Blob is an opened archive blob file, providing random-access reads by
// byte offset (the offset/size pairs stored in its companion IndexFile).
type Blob struct {
	path string
	src  io.ReaderAt
	size int64
}

// OpenBlob opens an archive blob for random-access reads, mmap-backed
// when useMmap is set (mirrors storage.go's openMMapFile).
func OpenBlob(path string, useMmap bool) (*Blob, error) {
	if useMmap {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("archive: mmap open %s: %w", path, err)
		}
		return &Blob{path: path, src: r, size: int64(r.Len())}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("archive: stat %s: %w", path, err)
	}
	return &Blob{path: path, src: f, size: st.Size()}, nil
}

// Path returns the blob's on-disk location.
func (b *Blob) Path() string { return b.path }

// Size returns the blob's total byte length.
func (b *Blob) Size() int64 { return b.size }

// ReadAt reads the raw (BLTE-encoded) bytes for one record.
func (b *Blob) ReadAt(offset, size uint32) ([]byte, error) {
	if int64(offset)+int64(size) > b.size {
		return nil, tacterr.NewCorrupt(b.path, "record [%d,%d) exceeds blob size %d", offset, offset+size, b.size)
	}
	out := make([]byte, size)
	if _, err := b.src.ReadAt(out, int64(offset)); err != nil {
		return nil, fmt.Errorf("archive: read record at %d: %w", offset, err)
	}
	return out, nil
}

// Close releases the underlying file/mapping, when the source supports it.
func (b *Blob) Close() error {
	if c, ok := b.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Locate resolves an EKey to its encoded bytes by consulting idx then
// reading from this blob.
func (b *Blob) Locate(idx *tactindex.IndexFile, ekey hash.EKey) ([]byte, bool, error) {
	timer := prometheus.NewTimer(obs.IndexLookupLatency)
	entry, ok, err := idx.TryGet(ekey)
	timer.ObserveDuration()
	if err != nil {
		obs.IndexLookups.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if !ok {
		obs.IndexLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	obs.IndexLookups.WithLabelValues("hit").Inc()
	data, err := b.ReadAt(entry.Offset, entry.Size)
	return data, err == nil, err
}

// DefaultMaxBytes is exported for callers that build a Config without
// pulling in the config package directly.
const DefaultMaxBytes = config.ArchiveMaxBytes
