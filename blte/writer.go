package blte

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/rpcpool/tact-cas/hash"
)

// Encode produces the full BLTE byte stream for plain under espec, per
// spec.md §4.2's writer contract. enc, if non-nil, requests that every
// frame be written as a ModeEncrypted frame over its plaintext chunk using
// the given parameters (FrameIndex is overwritten per-frame by Encode); the
// espec's N/Z mode then only sets the frame boundaries and no frame is
// compressed. Pass nil for a plain (unencrypted) archive member.
func Encode(plain []byte, espec ESpec, enc *encryptSpec) (*Result, error) {
	chunks := espec.Plan(len(plain))

	frames := make([][]byte, len(chunks))
	offset := 0
	for i, c := range chunks {
		var frameEnc *encryptSpec
		mode := c.Mode
		if enc != nil {
			e := *enc
			e.FrameIndex = i
			frameEnc = &e
			mode = ModeEncrypted
		}
		frame, err := encodeFrame(plain[offset:offset+c.Size], mode, frameEnc)
		if err != nil {
			return nil, err
		}
		frames[i] = frame
		offset += c.Size
	}

	var encoded []byte
	if len(frames) == 1 {
		// Single-frame inline format: header_size == 0, payload follows
		// directly with no frame table (spec.md §4.2, scenario S1).
		encoded = make([]byte, 0, 8+len(frames[0]))
		encoded = append(encoded, Magic[:]...)
		encoded = append(encoded, 0, 0, 0, 0)
		encoded = append(encoded, frames[0]...)
	} else {
		tableSize := 4 + len(frames)*24
		total := 8 + tableSize
		for _, f := range frames {
			total += len(f)
		}
		encoded = make([]byte, 0, total)
		encoded = append(encoded, Magic[:]...)

		var headerSizeBuf [4]byte
		binary.BigEndian.PutUint32(headerSizeBuf[:], uint32(tableSize))
		encoded = append(encoded, headerSizeBuf[:]...)

		var flagsBuf [4]byte
		binary.BigEndian.PutUint32(flagsBuf[:], uint32(len(frames)))
		flagsBuf[0] = 0x0F
		encoded = append(encoded, flagsBuf[:]...)

		for i, f := range frames {
			sum := md5.Sum(f)
			var entry [24]byte
			binary.BigEndian.PutUint32(entry[0:4], uint32(len(f)))
			binary.BigEndian.PutUint32(entry[4:8], uint32(chunks[i].Size))
			copy(entry[8:24], sum[:])
			encoded = append(encoded, entry[:]...)
		}
		for _, f := range frames {
			encoded = append(encoded, f...)
		}
	}

	return &Result{
		Encoded:   encoded,
		CKey:      hash.Sum(plain),
		EKey:      hash.Sum(encoded),
		PlainSize: int64(len(plain)),
	}, nil
}
