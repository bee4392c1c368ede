package encoding

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"
	"github.com/rpcpool/tact-cas/blte"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/tacterr"
)

// Open reads a BLTE-wrapped encoding-table stream (as produced by Save)
// and parses it fully into an in-memory Table. ks is only needed if the
// stream happens to use BLTE encrypted frames, which encoding files
// never do in practice but the reader supports uniformly.
func Open(src io.ReaderAt, ks blte.KeyService) (*Table, error) {
	r, err := blte.Open(src, ks)
	if err != nil {
		return nil, fmt.Errorf("encoding: blte open: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("encoding: blte read: %w", err)
	}
	return decode(raw)
}

func decode(raw []byte) (*Table, error) {
	if len(raw) < headerFixedSize {
		return nil, tacterr.NewCorrupt("encoding table", "stream too short (%d bytes)", len(raw))
	}
	dec := bin.NewBinDecoder(raw)

	var gotMagic [2]byte
	if _, err := dec.Read(gotMagic[:]); err != nil {
		return nil, err
	}
	if gotMagic != magic {
		return nil, fmt.Errorf("%w: encoding table", tacterr.ErrBadMagic)
	}
	version, _ := dec.ReadByte()
	if version != 1 {
		return nil, fmt.Errorf("%w: encoding table version %d", tacterr.ErrUnsupportedVersion, version)
	}
	ckeyHashSize, _ := dec.ReadByte()
	ekeyHashSize, _ := dec.ReadByte()
	if ckeyHashSize != hash.Size || ekeyHashSize != hash.Size {
		return nil, tacterr.NewCorrupt("encoding table", "unexpected hash size %d/%d", ckeyHashSize, ekeyHashSize)
	}
	ckeyPageSizeKB, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, err
	}
	ekeyPageSizeKB, err := dec.ReadUint16(bin.BE)
	if err != nil {
		return nil, err
	}
	ckeyPageCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, err
	}
	ekeyPageCount, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, err
	}
	if _, err := dec.ReadByte(); err != nil { // reserved
		return nil, err
	}
	especBlockSize, err := dec.ReadUint32(bin.BE)
	if err != nil {
		return nil, err
	}

	ckeyPageBytes := int(ckeyPageSizeKB) * 1024
	ekeyPageBytes := int(ekeyPageSizeKB) * 1024

	pos := headerFixedSize
	if pos+int(especBlockSize) > len(raw) {
		return nil, tacterr.NewCorrupt("encoding table", "espec pool truncated")
	}
	especBlock := raw[pos : pos+int(especBlockSize)]
	pos += int(especBlockSize)

	ckeyIndexSize := int(ckeyPageCount) * (hash.Size + 16)
	ekeyIndexSize := int(ekeyPageCount) * (hash.Size + 16)

	if pos+ckeyIndexSize > len(raw) {
		return nil, tacterr.NewCorrupt("encoding table", "ckey page index truncated")
	}
	ckeyIndex := raw[pos : pos+ckeyIndexSize]
	pos += ckeyIndexSize

	ckeyPagesStart := pos
	ckeyPagesTotal := int(ckeyPageCount) * ckeyPageBytes
	if ckeyPagesStart+ckeyPagesTotal > len(raw) {
		return nil, tacterr.NewCorrupt("encoding table", "ckey pages truncated")
	}
	pos += ckeyPagesTotal

	if pos+ekeyIndexSize > len(raw) {
		return nil, tacterr.NewCorrupt("encoding table", "ekey page index truncated")
	}
	ekeyIndex := raw[pos : pos+ekeyIndexSize]
	pos += ekeyIndexSize

	ekeyPagesStart := pos
	ekeyPagesTotal := int(ekeyPageCount) * ekeyPageBytes
	if ekeyPagesStart+ekeyPagesTotal > len(raw) {
		return nil, tacterr.NewCorrupt("encoding table", "ekey pages truncated")
	}
	pos += ekeyPagesTotal

	var especs []string
	for _, part := range bytes.Split(especBlock, []byte{0}) {
		if len(part) == 0 {
			continue
		}
		especs = append(especs, string(part))
	}

	t := New()
	t.especs = especs
	for i, s := range especs {
		t.especIdx[s] = uint32(i)
	}

	for p := 0; p < int(ckeyPageCount); p++ {
		rowOff := p * (hash.Size + 16)
		wantSum := ckeyIndex[rowOff+hash.Size : rowOff+hash.Size+16]
		page := raw[ckeyPagesStart+p*ckeyPageBytes : ckeyPagesStart+(p+1)*ckeyPageBytes]
		gotSum := md5.Sum(page)
		if !bytes.Equal(gotSum[:], wantSum) {
			return nil, tacterr.NewCorrupt("encoding table", "ckey page %d checksum mismatch", p)
		}
		if err := decodeCKeyPage(t, page); err != nil {
			return nil, err
		}
	}

	for p := 0; p < int(ekeyPageCount); p++ {
		rowOff := p * (hash.Size + 16)
		wantSum := ekeyIndex[rowOff+hash.Size : rowOff+hash.Size+16]
		page := raw[ekeyPagesStart+p*ekeyPageBytes : ekeyPagesStart+(p+1)*ekeyPageBytes]
		gotSum := md5.Sum(page)
		if !bytes.Equal(gotSum[:], wantSum) {
			return nil, tacterr.NewCorrupt("encoding table", "ekey page %d checksum mismatch", p)
		}
		decodeEKeyPage(t, page)
	}

	return t, nil
}

func decodeCKeyPage(t *Table, page []byte) error {
	off := 0
	for off < len(page) {
		keyCount := int(page[off])
		if keyCount == 0 {
			break
		}
		off++
		if off+5+hash.Size+keyCount*hash.Size > len(page) {
			return tacterr.NewCorrupt("encoding table", "ckey record overruns page")
		}
		plainSize := readUint40BE(page[off : off+5])
		off += 5
		var ckey hash.CKey
		copy(ckey[:], page[off:off+hash.Size])
		off += hash.Size
		ekeys := make([]hash.EKey, keyCount)
		for i := 0; i < keyCount; i++ {
			copy(ekeys[i][:], page[off:off+hash.Size])
			off += hash.Size
		}
		t.ckeys[ckey] = CKeyRecord{CKey: ckey, PlainSize: plainSize, EKeys: ekeys}
	}
	return nil
}

func decodeEKeyPage(t *Table, page []byte) {
	const recSize = hash.Size + 4 + 5
	var zero hash.EKey
	for off := 0; off+recSize <= len(page); off += recSize {
		var ekey hash.EKey
		copy(ekey[:], page[off:off+hash.Size])
		if ekey == zero {
			break
		}
		especIdx := getBE32(page[off+hash.Size : off+hash.Size+4])
		encodedSize := readUint40BE(page[off+hash.Size+4 : off+hash.Size+9])
		t.ekeys[ekey] = EKeyRecord{EKey: ekey, ESpecIndex: especIdx, EncodedSize: encodedSize}
	}
}
