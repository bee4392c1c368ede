package tactindex

import "github.com/rpcpool/tact-cas/hash"

// GroupIndex is a read-only view over a group index file: an index whose
// Footer.IsGroup bit is set, spanning the union of several archives'
// entries rather than a single blob (spec.md §4.3's group-index variant).
// The archive Store never consults one on the lookup path — each member
// archive already carries its own per-blob index, which is sufficient for
// spec.md §5's write/read contract — so this type exists purely for
// tooling that wants to audit or rebuild the grouping (e.g. a future "which
// archives does this EKey span" report) without teaching the hot path
// about a second index shape.
type GroupIndex struct {
	idx *IndexFile
}

// OpenGroupIndex opens path as a group index, failing if its footer does
// not actually carry the IsGroup flag.
func OpenGroupIndex(path string, useMmap bool) (*GroupIndex, error) {
	idx, err := Open(path, useMmap)
	if err != nil {
		return nil, err
	}
	if !idx.Footer().IsGroup {
		return nil, NewNotGroupError(path)
	}
	return &GroupIndex{idx: idx}, nil
}

// NotGroupError marks a file opened as a group index whose footer says
// otherwise.
type NotGroupError struct {
	Path string
}

func (e *NotGroupError) Error() string { return "tactindex: " + e.Path + " is not a group index" }

// NewNotGroupError builds a NotGroupError.
func NewNotGroupError(path string) error { return &NotGroupError{Path: path} }

// Checksum returns the group index's content-derived identity.
func (g *GroupIndex) Checksum() hash.Hash { return g.idx.Checksum() }

// TryGet resolves an EKey the same way a regular index does; callers doing
// cross-archive audits are expected to pair the returned Entry with
// whatever archive-grouping manifest accompanies this file.
func (g *GroupIndex) TryGet(ekey hash.EKey) (Entry, bool, error) {
	return g.idx.TryGet(ekey)
}

// All returns every entry the group index covers, in ascending EKey order.
func (g *GroupIndex) All() ([]Entry, error) {
	return g.idx.All()
}
