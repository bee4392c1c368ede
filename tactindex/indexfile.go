// Package tactindex implements the paged, sorted EKey->(archive,offset,size)
// index file described in spec.md §4.3: one ".index" file per archive blob
// (or per archive group), designed for mmap-style random access.
package tactindex

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/tacterr"
	"golang.org/x/exp/mmap"
)

var log = logging.Logger("tact/tactindex")

const (
	// DefaultPageSizeKB is spec.md §4.3's fixed default page size.
	DefaultPageSizeKB = 4
	entrySize         = hash.Size + 4 + 4 // EKey + size + offset
	tocEntrySize       = hash.Size + 8     // last_EKey + page_checksum
	footerSize         = 8 + 1 + 1 + 1 + 1 + 1 + 2 + 4 + 16
	checksumSize       = 8
)

// Kind flags which archive this index covers.
type Kind byte

const (
	KindData Kind = iota
	KindPatch
	KindLoose
)

// Entry is one EKey -> (offset, size) record within an archive blob.
type Entry struct {
	EKey   hash.EKey
	Size   uint32
	Offset uint32
}

// Footer mirrors spec.md §4.3's fixed trailer layout.
type Footer struct {
	Version      byte
	KeySize      byte
	ChecksumSize byte
	Kind         Kind
	IsGroup      bool
	PageSizeKB   uint16
	NumPages     uint32
}

// IndexFile is an opened (or freshly written) ".index" file.
type IndexFile struct {
	path     string
	checksum hash.Hash
	footer   Footer

	src io.ReaderAt

	tocLastKey []hash.EKey
	tocSum     [][checksumSize]byte
	pageOffset []int64
	pageSize   int64
	entriesCap int
}

// Checksum returns the index's identity: MD5(file content)[0..16], which is
// also (hex-encoded) its filename (spec.md §3 invariant 2).
func (f *IndexFile) Checksum() hash.Hash { return f.checksum }

// Footer exposes the parsed trailer.
func (f *IndexFile) Footer() Footer { return f.footer }

// Path is the file's on-disk location.
func (f *IndexFile) Path() string { return f.path }

// FileName returns the canonical "<checksum>.index" name.
func FileName(checksum hash.Hash) string {
	return checksum.String() + ".index"
}

// Write builds and persists a new index file covering entries, which MUST
// already be sorted and de-duplicated by EKey (spec.md §3 invariant 1); the
// archive engine's packing step guarantees this. The file is written to a
// uuid-suffixed temp name and then renamed to its checksum-derived final
// name, matching spec.md §5's "no torn index files" guarantee.
func Write(dir string, entries []Entry, kind Kind, isGroup bool, pageSizeKB int) (*IndexFile, error) {
	if pageSizeKB <= 0 {
		pageSizeKB = DefaultPageSizeKB
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].EKey.Less(entries[i].EKey) {
			return nil, fmt.Errorf("tactindex: entries not strictly increasing at index %d", i)
		}
	}

	content, err := encode(entries, kind, isGroup, pageSizeKB)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(content)
	checksum := hash.Hash(sum)

	tmpName := fmt.Sprintf(".%s.tmp", uuid.NewString())
	tmpPath := dir + string(os.PathSeparator) + tmpName
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("tactindex: write temp file: %w", err)
	}
	finalPath := dir + string(os.PathSeparator) + FileName(checksum)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("tactindex: rename into place: %w", err)
	}

	return Open(finalPath, false)
}

// encode serializes entries into the full on-disk byte layout.
func encode(entries []Entry, kind Kind, isGroup bool, pageSizeKB int) ([]byte, error) {
	pageBytes := pageSizeKB * 1024
	perPage := pageBytes / entrySize
	if perPage == 0 {
		return nil, fmt.Errorf("tactindex: page size %dKB too small for one entry", pageSizeKB)
	}
	numPages := (len(entries) + perPage - 1) / perPage
	if numPages == 0 {
		numPages = 1 // always at least one (possibly empty) page
	}

	var out bytes.Buffer
	type tocRow struct {
		lastKey hash.EKey
		sum     [checksumSize]byte
	}
	toc := make([]tocRow, 0, numPages)

	for p := 0; p < numPages; p++ {
		start := p * perPage
		end := start + perPage
		if end > len(entries) {
			end = len(entries)
		}
		page := make([]byte, pageBytes)
		off := 0
		var last hash.EKey
		for _, e := range entries[start:end] {
			copy(page[off:off+hash.Size], e.EKey[:])
			putBE32(page[off+hash.Size:off+hash.Size+4], e.Size)
			putBE32(page[off+hash.Size+4:off+hash.Size+8], e.Offset)
			off += entrySize
			last = e.EKey
		}
		sum := md5.Sum(page)
		var trunc [checksumSize]byte
		copy(trunc[:], sum[:checksumSize])
		toc = append(toc, tocRow{lastKey: last, sum: trunc})
		out.Write(page)
	}

	tocStart := out.Len()
	for _, row := range toc {
		out.Write(row.lastKey[:])
		out.Write(row.sum[:])
	}
	tocBytes := out.Bytes()[tocStart:]
	tocSum := md5.Sum(tocBytes)
	var tocChecksum [checksumSize]byte
	copy(tocChecksum[:], tocSum[:checksumSize])

	flags0 := byte(kind)
	flags1 := byte(0)
	if isGroup {
		flags1 |= 0x01
	}

	footerBody := make([]byte, 0, footerSize)
	footerBody = append(footerBody, tocChecksum[:]...)
	footerBody = append(footerBody, 1 /* version */, hash.Size, checksumSize, flags0, flags1)
	pageSizeBuf := make([]byte, 2)
	putLE16(pageSizeBuf, uint16(pageSizeKB))
	footerBody = append(footerBody, pageSizeBuf...)
	numPagesBuf := make([]byte, 4)
	putLE32(numPagesBuf, uint32(numPages))
	footerBody = append(footerBody, numPagesBuf...)

	footerSum := md5.Sum(footerBody)
	out.Write(footerBody)
	out.Write(footerSum[:])

	return out.Bytes(), nil
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Open parses and validates an on-disk index file's footer and TOC, then
// reads every page to check it against its TOC checksum and reads the
// whole file to check it against its filename. A checksum or page
// mismatch fails only this file (tacterr.CorruptError), never the caller's
// wider directory scan (spec.md §4.5).
func Open(path string, useMmap bool) (*IndexFile, error) {
	var src io.ReaderAt
	var size int64
	if useMmap {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tactindex: mmap open: %w", err)
		}
		src = r
		size = int64(r.Len())
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tactindex: open: %w", err)
		}
		st, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("tactindex: stat: %w", err)
		}
		src = f
		size = st.Size()
	}

	if size < footerSize {
		return nil, tacterr.NewCorrupt(path, "file too small (%d bytes)", size)
	}

	footerBuf := make([]byte, footerSize)
	if _, err := src.ReadAt(footerBuf, size-footerSize); err != nil {
		return nil, fmt.Errorf("tactindex: read footer: %w", err)
	}
	body := footerBuf[:footerSize-16]
	wantSum := footerBuf[footerSize-16:]
	gotSum := md5.Sum(body)
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, tacterr.NewCorrupt(path, "footer_checksum mismatch")
	}

	dec := bin.NewBinDecoder(body)
	var tocChecksum [checksumSize]byte
	if _, err := dec.Read(tocChecksum[:]); err != nil {
		return nil, tacterr.NewCorrupt(path, "short footer: %s", err)
	}
	version, err := dec.ReadByte()
	if err != nil {
		return nil, tacterr.NewCorrupt(path, "short footer: %s", err)
	}
	if version != 1 {
		return nil, fmt.Errorf("%w: index version %d", tacterr.ErrUnsupportedVersion, version)
	}
	keySize, _ := dec.ReadByte()
	if keySize != hash.Size {
		return nil, tacterr.NewCorrupt(path, "unexpected key size %d", keySize)
	}
	cksumSize, _ := dec.ReadByte()
	if cksumSize != checksumSize {
		return nil, tacterr.NewCorrupt(path, "unexpected checksum size %d", cksumSize)
	}
	flags0, _ := dec.ReadByte()
	flags1, _ := dec.ReadByte()
	pageSizeKB, err := dec.ReadUint16(bin.LE)
	if err != nil {
		return nil, tacterr.NewCorrupt(path, "short footer: %s", err)
	}
	numPages, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, tacterr.NewCorrupt(path, "short footer: %s", err)
	}

	pageBytes := int64(pageSizeKB) * 1024
	tocSize := int64(numPages) * tocEntrySize
	tocStart := size - footerSize - tocSize
	expectedPagesEnd := tocStart
	if expectedPagesEnd < 0 {
		return nil, tacterr.NewCorrupt(path, "toc size exceeds file size")
	}

	tocBuf := make([]byte, tocSize)
	if tocSize > 0 {
		if _, err := src.ReadAt(tocBuf, tocStart); err != nil {
			return nil, fmt.Errorf("tactindex: read toc: %w", err)
		}
	}
	gotTocSum := md5.Sum(tocBuf)
	var gotTocTrunc [checksumSize]byte
	copy(gotTocTrunc[:], gotTocSum[:checksumSize])
	if gotTocTrunc != tocChecksum {
		return nil, tacterr.NewCorrupt(path, "toc_checksum mismatch")
	}

	idx := &IndexFile{
		path:       path,
		footer:     Footer{Version: version, KeySize: keySize, ChecksumSize: cksumSize, Kind: Kind(flags0), IsGroup: flags1&0x01 != 0, PageSizeKB: pageSizeKB, NumPages: numPages},
		src:        src,
		pageSize:   pageBytes,
		entriesCap: int(pageBytes) / entrySize,
	}
	idx.tocLastKey = make([]hash.EKey, numPages)
	idx.tocSum = make([][checksumSize]byte, numPages)
	idx.pageOffset = make([]int64, numPages)
	for i := 0; i < int(numPages); i++ {
		row := tocBuf[i*tocEntrySize : (i+1)*tocEntrySize]
		copy(idx.tocLastKey[i][:], row[:hash.Size])
		copy(idx.tocSum[i][:], row[hash.Size:])
		idx.pageOffset[i] = int64(i) * pageBytes
		// Validate each page's checksum against the TOC row eagerly: the
		// whole point of the TOC is to let a reader trust pages without
		// re-reading all of them, but spec.md's "footer first, then
		// fails this file" failure model calls for catching corruption
		// at Open rather than silently returning wrong data at TryGet.
		pageBuf := make([]byte, pageBytes)
		if _, err := src.ReadAt(pageBuf, idx.pageOffset[i]); err != nil {
			return nil, fmt.Errorf("tactindex: read page %d: %w", i, err)
		}
		sum := md5.Sum(pageBuf)
		var trunc [checksumSize]byte
		copy(trunc[:], sum[:checksumSize])
		if trunc != idx.tocSum[i] {
			return nil, tacterr.NewCorrupt(path, "page_checksum mismatch at page %d", i)
		}
	}

	content := make([]byte, size)
	if _, err := src.ReadAt(content, 0); err != nil {
		return nil, fmt.Errorf("tactindex: read for checksum: %w", err)
	}
	idx.checksum = hash.Sum(content)

	base := filepathBase(path)
	wantName := FileName(idx.checksum)
	if base != wantName {
		log.Warnw("index filename does not match content checksum", "path", path, "want", wantName)
		return nil, tacterr.NewCorrupt(path, "filename %q does not match content checksum %q", base, wantName)
	}

	return idx, nil
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// TryGet binary-searches the TOC by last_EKey to select a page, then
// binary-searches within that page (spec.md §4.3). The archive Store skips
// group indices before reaching here (per the Open Question resolved in
// DESIGN.md), while GroupIndex.TryGet calls it directly; TryGet itself has
// no opinion on that.
func (idx *IndexFile) TryGet(ekey hash.EKey) (Entry, bool, error) {
	n := len(idx.tocLastKey)
	pageIdx := sort.Search(n, func(i int) bool {
		return !idx.tocLastKey[i].Less(ekey)
	})
	if pageIdx == n {
		return Entry{}, false, nil
	}

	pageBuf := make([]byte, idx.pageSize)
	if _, err := idx.src.ReadAt(pageBuf, idx.pageOffset[pageIdx]); err != nil {
		return Entry{}, false, fmt.Errorf("tactindex: read page %d: %w", pageIdx, err)
	}

	count := idx.entriesCap
	found := sort.Search(count, func(i int) bool {
		off := i * entrySize
		var k hash.EKey
		copy(k[:], pageBuf[off:off+hash.Size])
		if k.IsEmpty() && i > 0 {
			// Entry slot past the last real record (zero padding).
			return true
		}
		return !k.Less(ekey)
	})
	if found == count {
		return Entry{}, false, nil
	}
	off := found * entrySize
	var k hash.EKey
	copy(k[:], pageBuf[off:off+hash.Size])
	if k != ekey {
		return Entry{}, false, nil
	}
	size := getBE32(pageBuf[off+hash.Size : off+hash.Size+4])
	offset := getBE32(pageBuf[off+hash.Size+4 : off+hash.Size+8])
	return Entry{EKey: k, Size: size, Offset: offset}, true, nil
}

func getBE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// All returns every entry in the index, in ascending EKey order. Used by
// archive.Compact, archive.Store.Stats and GroupIndex.All.
func (idx *IndexFile) All() ([]Entry, error) {
	var out []Entry
	for p := 0; p < len(idx.pageOffset); p++ {
		pageBuf := make([]byte, idx.pageSize)
		if _, err := idx.src.ReadAt(pageBuf, idx.pageOffset[p]); err != nil {
			return nil, fmt.Errorf("tactindex: read page %d: %w", p, err)
		}
		for off := 0; off+entrySize <= len(pageBuf); off += entrySize {
			var k hash.EKey
			copy(k[:], pageBuf[off:off+hash.Size])
			if k.IsEmpty() {
				break
			}
			size := getBE32(pageBuf[off+hash.Size : off+hash.Size+4])
			offset := getBE32(pageBuf[off+hash.Size+4 : off+hash.Size+8])
			out = append(out, Entry{EKey: k, Size: size, Offset: offset})
		}
	}
	return out, nil
}
