// Package encoding implements TACT's encoding table (spec.md §4.4): the
// CKey->(size,[EKey...]) and EKey->ESpec-index paged maps, plus the ESpec
// string pool, following the same paged/page-checksummed shape as
// tactindex but specialized to the two-section encoding-file layout.
package encoding

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"os"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/tact-cas/blte"
	"github.com/rpcpool/tact-cas/hash"
)

var log = logging.Logger("tact/encoding")

var magic = [2]byte{'E', 'N'}

const headerFixedSize = 2 + 1 + 1 + 1 + 2 + 2 + 4 + 4 + 1 + 4

// CKeyRecord maps a content key to its plaintext size and the EKey(s) that
// encode it (more than one when the same content is packaged under
// multiple ESpecs).
type CKeyRecord struct {
	CKey      hash.CKey
	PlainSize uint64 // fits in 40 bits on the wire (spec.md §4.4)
	EKeys     []hash.EKey
}

// EKeyRecord maps an encoding key to its ESpec (by pool index) and the
// size of the encoded (BLTE) stream.
type EKeyRecord struct {
	EKey        hash.EKey
	ESpecIndex  uint32
	EncodedSize uint64 // fits in 40 bits on the wire
}

// Table is an in-memory encoding table under construction (via Add) or
// loaded from disk (via Open).
type Table struct {
	ckeys    map[hash.CKey]CKeyRecord
	ekeys    map[hash.EKey]EKeyRecord
	especs   []string
	especIdx map[string]uint32
}

// New returns an empty Table ready for Add calls.
func New() *Table {
	return &Table{
		ckeys:    make(map[hash.CKey]CKeyRecord),
		ekeys:    make(map[hash.EKey]EKeyRecord),
		especIdx: make(map[string]uint32),
	}
}

// Add records one CKey/EKey pair and its ESpec. Calling Add again for a
// CKey already present appends ekey to its EKey list (the
// multiple-encodings-of-one-content case); calling it again for an EKey
// already present is a no-op, matching content addressing's guarantee
// that the same EKey always carries the same bytes.
func (t *Table) Add(ckey hash.CKey, ekey hash.EKey, plainSize uint64, encodedSize uint64, espec string) {
	idx, ok := t.especIdx[espec]
	if !ok {
		idx = uint32(len(t.especs))
		t.especs = append(t.especs, espec)
		t.especIdx[espec] = idx
	}

	if _, exists := t.ekeys[ekey]; !exists {
		t.ekeys[ekey] = EKeyRecord{EKey: ekey, ESpecIndex: idx, EncodedSize: encodedSize}
	}

	rec, exists := t.ckeys[ckey]
	if !exists {
		t.ckeys[ckey] = CKeyRecord{CKey: ckey, PlainSize: plainSize, EKeys: []hash.EKey{ekey}}
		return
	}
	for _, e := range rec.EKeys {
		if e == ekey {
			return
		}
	}
	rec.EKeys = append(rec.EKeys, ekey)
	t.ckeys[ckey] = rec
}

// TryGetCKey resolves a content key to its plaintext size and EKey list.
func (t *Table) TryGetCKey(ckey hash.CKey) (CKeyRecord, bool) {
	rec, ok := t.ckeys[ckey]
	return rec, ok
}

// TryGetESpec resolves an encoding key to its ESpec string.
func (t *Table) TryGetESpec(ekey hash.EKey) (string, bool) {
	rec, ok := t.ekeys[ekey]
	if !ok {
		return "", false
	}
	if int(rec.ESpecIndex) >= len(t.especs) {
		return "", false
	}
	return t.especs[rec.ESpecIndex], true
}

// Stats reports the table's size for inspection tooling: the number of
// distinct content keys, encoded keys, and interned ESpec strings.
func (t *Table) Stats() (numCKeys, numEKeys, numESpecs int) {
	return len(t.ckeys), len(t.ekeys), len(t.especs)
}

// Save serializes the table, BLTE-wraps it with the ESpec parsed from
// wrapSpec (cas.CasWriter.Commit passes "z"), writes
// it to dir under a uuid temp name, and renames it into place under its
// own EKey. It returns the resulting EKey, matching spec.md's "the
// encoding file is itself a CAS object" design note.
func Save(dir string, t *Table, wrapSpec string) (hash.EKey, error) {
	raw, err := t.encode()
	if err != nil {
		return hash.Empty, err
	}

	espec, err := blte.ParseESpec(wrapSpec)
	if err != nil {
		return hash.Empty, fmt.Errorf("encoding: parse wrap espec: %w", err)
	}
	res, err := blte.Encode(raw, espec, nil)
	if err != nil {
		return hash.Empty, fmt.Errorf("encoding: blte wrap: %w", err)
	}

	tmpName := fmt.Sprintf(".%s.tmp", uuid.NewString())
	tmpPath := dir + string(os.PathSeparator) + tmpName
	if err := os.WriteFile(tmpPath, res.Encoded, 0o644); err != nil {
		return hash.Empty, fmt.Errorf("encoding: write temp: %w", err)
	}
	finalPath := dir + string(os.PathSeparator) + res.EKey.String()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return hash.Empty, fmt.Errorf("encoding: rename into place: %w", err)
	}
	log.Infow("encoding table saved", "ekey", res.EKey.String(), "ckeys", len(t.ckeys), "ekeys", len(t.ekeys))
	return res.EKey, nil
}

// encode builds the flat on-disk byte layout: header, ESpec string pool,
// CKey page index + pages, EKey page index + pages (spec.md §4.4's
// documented field order). Page contents are written with plain byte
// packing (matching tactindex's page format); the header uses
// gagliardetto/binary's explicit-endianness encoder, mirroring
// bucketteer/write.go's header encoding.
func (t *Table) encode() ([]byte, error) {
	const pageBytes = 4096

	ckeySorted := make([]hash.CKey, 0, len(t.ckeys))
	for k := range t.ckeys {
		ckeySorted = append(ckeySorted, k)
	}
	sort.Slice(ckeySorted, func(i, j int) bool { return ckeySorted[i].Less(ckeySorted[j]) })

	ekeySorted := make([]hash.EKey, 0, len(t.ekeys))
	for k := range t.ekeys {
		ekeySorted = append(ekeySorted, k)
	}
	sort.Slice(ekeySorted, func(i, j int) bool { return ekeySorted[i].Less(ekeySorted[j]) })

	ckeyPages, ckeyIndexRows, err := encodeCKeyPages(t, ckeySorted, pageBytes)
	if err != nil {
		return nil, err
	}
	ekeyPages, ekeyIndexRows, err := encodeEKeyPages(t, ekeySorted, pageBytes)
	if err != nil {
		return nil, err
	}

	var especBlock bytes.Buffer
	for _, s := range t.especs {
		especBlock.WriteString(s)
		especBlock.WriteByte(0)
	}

	var out bytes.Buffer
	enc := bin.NewBinEncoder(&out)
	if _, err := enc.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("encoding: write magic: %w", err)
	}
	if err := enc.WriteUint8(1); err != nil { // version
		return nil, err
	}
	if err := enc.WriteUint8(hash.Size); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(hash.Size); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(uint16(pageBytes/1024), bin.BE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint16(uint16(pageBytes/1024), bin.BE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(ckeyPages)), bin.BE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(ekeyPages)), bin.BE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(0); err != nil { // unknown/reserved
		return nil, err
	}
	if err := enc.WriteUint32(uint32(especBlock.Len()), bin.BE); err != nil {
		return nil, err
	}

	out.Write(especBlock.Bytes())
	out.Write(ckeyIndexRows)
	for _, p := range ckeyPages {
		out.Write(p)
	}
	out.Write(ekeyIndexRows)
	for _, p := range ekeyPages {
		out.Write(p)
	}

	return out.Bytes(), nil
}

// encodeCKeyPages packs CKey records (key_count(1)|plain_size(5,BE)|CKey(16)|
// EKey[key_count](16 each), page-terminated by a zero key_count byte) and
// returns both the page bodies and the (first_key+page_md5) index rows.
func encodeCKeyPages(t *Table, keys []hash.CKey, pageBytes int) ([][]byte, []byte, error) {
	var pages [][]byte
	var indexRows bytes.Buffer
	var cur bytes.Buffer
	var firstKeyOfPage hash.CKey
	havePending := false

	flush := func() {
		page := make([]byte, pageBytes)
		copy(page, cur.Bytes())
		sum := md5.Sum(page)
		indexRows.Write(firstKeyOfPage[:])
		indexRows.Write(sum[:])
		pages = append(pages, page)
		cur.Reset()
		havePending = false
	}

	for _, k := range keys {
		rec := t.ckeys[k]
		if len(rec.EKeys) > 255 {
			return nil, nil, fmt.Errorf("encoding: ckey %s has too many EKeys (%d)", k, len(rec.EKeys))
		}
		recSize := 1 + 5 + hash.Size + len(rec.EKeys)*hash.Size
		if cur.Len()+recSize+1 > pageBytes && havePending {
			flush()
		}
		if !havePending {
			firstKeyOfPage = k
		}
		cur.WriteByte(byte(len(rec.EKeys)))
		writeUint40BE(&cur, rec.PlainSize)
		cur.Write(k[:])
		for _, e := range rec.EKeys {
			cur.Write(e[:])
		}
		havePending = true
	}
	if havePending {
		flush()
	}
	if len(pages) == 0 {
		pages = append(pages, make([]byte, pageBytes))
		var zero hash.CKey
		sum := md5.Sum(pages[0])
		indexRows.Write(zero[:])
		indexRows.Write(sum[:])
	}
	return pages, indexRows.Bytes(), nil
}

// encodeEKeyPages packs EKey records (EKey(16)|espec_index(4,BE)|
// encoded_size(5,BE)) into fixed-size pages.
func encodeEKeyPages(t *Table, keys []hash.EKey, pageBytes int) ([][]byte, []byte, error) {
	const recSize = hash.Size + 4 + 5
	perPage := pageBytes / recSize
	if perPage == 0 {
		return nil, nil, fmt.Errorf("encoding: page size too small for one EKey record")
	}

	var pages [][]byte
	var indexRows bytes.Buffer

	for start := 0; start < len(keys); start += perPage {
		end := start + perPage
		if end > len(keys) {
			end = len(keys)
		}
		page := make([]byte, pageBytes)
		off := 0
		for _, k := range keys[start:end] {
			rec := t.ekeys[k]
			copy(page[off:off+hash.Size], k[:])
			putBE32(page[off+hash.Size:off+hash.Size+4], rec.ESpecIndex)
			writeUint40BESlice(page[off+hash.Size+4:off+hash.Size+9], rec.EncodedSize)
			off += recSize
		}
		sum := md5.Sum(page)
		indexRows.Write(keys[start][:])
		indexRows.Write(sum[:])
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		pages = append(pages, make([]byte, pageBytes))
		var zero hash.EKey
		sum := md5.Sum(pages[0])
		indexRows.Write(zero[:])
		indexRows.Write(sum[:])
	}
	return pages, indexRows.Bytes(), nil
}

func writeUint40BE(buf *bytes.Buffer, v uint64) {
	var b [5]byte
	writeUint40BESlice(b[:], v)
	buf.Write(b[:])
}

func writeUint40BESlice(b []byte, v uint64) {
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
}

func readUint40BE(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getBE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
