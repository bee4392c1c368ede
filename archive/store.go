package archive

import (
	"path/filepath"

	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/tactindex"
)

// Store is a read-only view over a directory of archive blob + ".index"
// pairs, analogous to gsfaprimary's multi-file primary store: many
// immutable data files, one per archive, looked up through their indices.
type Store struct {
	dir     string
	cfg     config.Config
	entries []storeEntry
}

type storeEntry struct {
	blob *Blob
	idx  *tactindex.IndexFile
}

// Open reads dir's archives.json manifest (written by Save) and opens each
// blob+index pair it names. A pair that fails to open is skipped with a
// warning rather than failing the whole directory (spec.md §4.5's
// per-file corruption isolation); a directory with no manifest yet opens
// as an empty Store.
func Open(dir string, cfg config.Config) (*Store, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{dir: dir, cfg: cfg}
	for _, e := range m.Entries {
		indexPath := filepath.Join(dir, e.Index)
		idx, err := tactindex.Open(indexPath, cfg.UseMmap)
		if err != nil {
			log.Warnw("skipping unreadable index", "path", indexPath, "err", err)
			continue
		}
		if idx.Footer().IsGroup {
			continue
		}
		blobPath := filepath.Join(dir, e.Blob)
		blob, err := OpenBlob(blobPath, cfg.UseMmap)
		if err != nil {
			log.Warnw("skipping archive with missing blob", "path", blobPath, "err", err)
			continue
		}
		s.entries = append(s.entries, storeEntry{blob: blob, idx: idx})
	}
	return s, nil
}

// Lookup resolves an EKey to its encoded (BLTE) bytes by scanning each
// archive's index in turn. Corruption in one archive's index never fails
// the lookup across the others (spec.md §4.5's per-file corruption
// isolation).
func (s *Store) Lookup(ekey hash.EKey) ([]byte, bool, error) {
	for _, e := range s.entries {
		data, ok, err := e.blob.Locate(e.idx, ekey)
		if err != nil {
			log.Warnw("archive lookup error, skipping archive", "err", err)
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Close releases every opened blob in the store.
func (s *Store) Close() error {
	var firstErr error
	for _, e := range s.entries {
		if err := e.blob.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NumArchives reports how many archive blob+index pairs are loaded.
func (s *Store) NumArchives() int { return len(s.entries) }

// Stat summarizes one loaded archive for diagnostics.
type Stat struct {
	Blob       string
	Index      string
	Bytes      int64
	NumRecords int
}

// Stats reports per-archive size and record counts, for inspection
// tooling rather than the hot lookup path.
func (s *Store) Stats() ([]Stat, error) {
	out := make([]Stat, 0, len(s.entries))
	for _, e := range s.entries {
		all, err := e.idx.All()
		if err != nil {
			return nil, err
		}
		out = append(out, Stat{
			Blob:       e.blob.Path(),
			Index:      e.idx.Path(),
			Bytes:      e.blob.Size(),
			NumRecords: len(all),
		})
	}
	return out, nil
}
