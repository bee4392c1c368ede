package blte

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rpcpool/tact-cas/tacterr"
)

// Reader streams BLTE-decoded plaintext. It validates each frame's checksum
// as it is consumed and supports seeking by re-decoding the owning frame
// from its start, per spec.md §4.2's "streaming reader contract".
type Reader struct {
	src io.ReaderAt
	ks  KeyService

	frames    []frameHeader
	frameOffs []int64 // byte offset of frame i within src (after any table)
	inline    bool    // true when header_size == 0 (single frame, no table)

	plainSize int64

	curFrame  int
	curPlain  []byte // decoded plaintext of curFrame
	curOffset int    // read position within curPlain
	pos       int64  // absolute position within the full plaintext stream
}

// Open parses a BLTE container's header/frame table and returns a Reader
// positioned at the start of the plaintext. ks may be nil if the stream is
// known not to contain any ModeEncrypted frames.
func Open(src io.ReaderAt, ks KeyService) (*Reader, error) {
	var magicBuf [8]byte
	if _, err := src.ReadAt(magicBuf[:], 0); err != nil {
		return nil, fmt.Errorf("blte: read header: %w", err)
	}
	if [4]byte(magicBuf[:4]) != Magic {
		return nil, fmt.Errorf("%w: expected %q", tacterr.ErrBadMagic, Magic)
	}
	headerSize := binary.BigEndian.Uint32(magicBuf[4:8])

	r := &Reader{src: src, ks: ks}

	if headerSize == 0 {
		r.inline = true
		// The single frame's mode byte tells us nothing about its
		// decoded length up front, so Open decodes the frame here and
		// takes PlainSize from the decoded plaintext.
		r.frameOffs = []int64{8}
		r.frames = []frameHeader{{}}
		if err := r.decodeFrameInto(0); err != nil {
			return nil, err
		}
		r.plainSize = int64(len(r.curPlain))
		r.curOffset = 0
		return r, nil
	}

	tableBuf := make([]byte, headerSize)
	if _, err := src.ReadAt(tableBuf, 8); err != nil {
		return nil, fmt.Errorf("blte: read frame table: %w", err)
	}
	if tableBuf[0] != 0x0F {
		return nil, tacterr.NewCorrupt("blte header", "bad flags byte %#x", tableBuf[0])
	}
	frameCount := int(binary.BigEndian.Uint32(tableBuf[0:4]) & 0x00FFFFFF)
	if 4+frameCount*24 > len(tableBuf) {
		return nil, tacterr.NewCorrupt("blte header", "frame table truncated")
	}

	r.frames = make([]frameHeader, frameCount)
	r.frameOffs = make([]int64, frameCount)
	offset := int64(8) + int64(headerSize)
	for i := 0; i < frameCount; i++ {
		entry := tableBuf[4+i*24 : 4+(i+1)*24]
		fh := frameHeader{
			EncodedSize: binary.BigEndian.Uint32(entry[0:4]),
			PlainSize:   binary.BigEndian.Uint32(entry[4:8]),
		}
		copy(fh.Checksum[:], entry[8:24])
		r.frames[i] = fh
		r.frameOffs[i] = offset
		r.plainSize += int64(fh.PlainSize)
		offset += int64(fh.EncodedSize)
	}

	if err := r.decodeFrameInto(0); err != nil {
		return nil, err
	}
	return r, nil
}

// Len returns the total decoded plaintext size.
func (r *Reader) Len() int64 { return r.plainSize }

// decodeFrameInto decodes frame i into r.curPlain, verifying its checksum,
// and resets the in-frame read cursor.
func (r *Reader) decodeFrameInto(i int) error {
	if i >= len(r.frames) {
		r.curFrame = i
		r.curPlain = nil
		r.curOffset = 0
		return nil
	}
	var encSize int
	if r.inline {
		// Inline frames run to EOF; probe with a generous cap via a
		// growing read since io.ReaderAt has no natural "size" here.
		encSize = -1
	} else {
		encSize = int(r.frames[i].EncodedSize)
	}

	var raw []byte
	if encSize >= 0 {
		raw = make([]byte, encSize)
		if _, err := r.src.ReadAt(raw, r.frameOffs[i]); err != nil {
			return fmt.Errorf("blte: read frame %d: %w", i, err)
		}
	} else {
		var err error
		raw, err = readAllAt(r.src, r.frameOffs[i])
		if err != nil {
			return fmt.Errorf("blte: read inline frame: %w", err)
		}
	}

	if !r.inline {
		sum := md5.Sum(raw)
		if sum != r.frames[i].Checksum {
			return fmt.Errorf("%w: frame %d", tacterr.ErrBlteChecksumMismatch, i)
		}
	}

	plainSize := -1
	if !r.inline {
		plainSize = int(r.frames[i].PlainSize)
	}
	plain, err := decodeFrame(raw, plainSize, r.ks, i)
	if err != nil {
		return err
	}
	r.curFrame = i
	r.curPlain = plain
	r.curOffset = 0
	return nil
}

func readAllAt(src io.ReaderAt, offset int64) ([]byte, error) {
	const chunkSize = 64 * 1024
	var buf []byte
	pos := offset
	for {
		chunk := make([]byte, chunkSize)
		n, err := src.ReadAt(chunk, pos)
		buf = append(buf, chunk[:n]...)
		pos += int64(n)
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Read implements io.Reader, decoding frames on demand.
func (r *Reader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if r.curFrame >= len(r.frames) {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		if r.curOffset >= len(r.curPlain) {
			if err := r.decodeFrameInto(r.curFrame + 1); err != nil {
				return total, err
			}
			continue
		}
		n := copy(p[total:], r.curPlain[r.curOffset:])
		r.curOffset += n
		total += n
		r.pos += int64(n)
	}
	return total, nil
}

// Seek repositions the plaintext cursor. Seeking within the current frame,
// forward or backward, only moves the cursor over its already-decoded
// plaintext; seeking into any other frame re-decodes that frame from its
// start.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.plainSize + offset
	default:
		return 0, fmt.Errorf("blte: invalid whence %d", whence)
	}
	if target < 0 || target > r.plainSize {
		return 0, fmt.Errorf("blte: seek out of range")
	}

	frameIdx, within, err := r.locate(target)
	if err != nil {
		return 0, err
	}
	if frameIdx != r.curFrame {
		if err := r.decodeFrameInto(frameIdx); err != nil {
			return 0, err
		}
	}
	r.curOffset = within
	r.pos = target
	return target, nil
}

// locate maps an absolute plaintext offset to (frame index, offset within
// that frame's decoded plaintext). Only meaningful for framed (non-inline)
// streams; inline streams have exactly one frame.
func (r *Reader) locate(target int64) (int, int, error) {
	if r.inline {
		return 0, int(target), nil
	}
	var acc int64
	for i, fh := range r.frames {
		next := acc + int64(fh.PlainSize)
		if target < next {
			return i, int(target - acc), nil
		}
		acc = next
	}
	return len(r.frames), 0, nil
}
