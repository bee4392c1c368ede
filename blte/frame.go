package blte

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/rpcpool/tact-cas/tacterr"
)

// encodeFrame encodes a single plaintext chunk under the given mode,
// returning the full frame bytes (mode byte included).
func encodeFrame(plain []byte, mode Mode, enc *encryptSpec) ([]byte, error) {
	switch mode {
	case ModeRaw:
		out := make([]byte, 1+len(plain))
		out[0] = byte(ModeRaw)
		copy(out[1:], plain)
		return out, nil
	case ModeZlib:
		var buf bytes.Buffer
		buf.WriteByte(byte(ModeZlib))
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(plain); err != nil {
			return nil, fmt.Errorf("blte: zlib encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blte: zlib encode: %w", err)
		}
		return buf.Bytes(), nil
	case ModeRecursive:
		inner, err := Encode(plain, ESpec{raw: "z", single: ModeZlib, hasSingle: true}, nil)
		if err != nil {
			return nil, fmt.Errorf("blte: recursive encode: %w", err)
		}
		out := make([]byte, 1+len(inner.Encoded))
		out[0] = byte(ModeRecursive)
		copy(out[1:], inner.Encoded)
		return out, nil
	case ModeEncrypted:
		if enc == nil {
			return nil, fmt.Errorf("blte: mode E requires an encryptSpec")
		}
		return encodeEncryptedFrame(plain, *enc)
	default:
		return nil, fmt.Errorf("blte: %w: %q", tacterr.ErrBlteUnknownMode, mode)
	}
}

// decodeFrame decodes a single frame's bytes (mode byte included) back to
// plaintext of the expected length. frameIndex is needed for ModeEncrypted,
// whose IV XORs with the frame's position in the stream (spec.md §4.2).
func decodeFrame(frame []byte, plainSize int, ks KeyService, frameIndex int) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("blte: empty frame")
	}
	mode := Mode(frame[0])
	payload := frame[1:]
	switch mode {
	case ModeRaw:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case ModeZlib:
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("blte: zlib decode: %w", err)
		}
		defer r.Close()
		if plainSize < 0 {
			out, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("blte: zlib decode: %w", err)
			}
			return out, nil
		}
		out := make([]byte, plainSize)
		if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("blte: zlib decode: %w", err)
		}
		return out, nil
	case ModeRecursive:
		nested, err := Open(bytes.NewReader(payload), ks)
		if err != nil {
			return nil, fmt.Errorf("blte: recursive decode: %w", err)
		}
		out := make([]byte, nested.Len())
		if _, err := io.ReadFull(nested, out); err != nil {
			return nil, fmt.Errorf("blte: recursive decode: %w", err)
		}
		return out, nil
	case ModeEncrypted:
		return decodeEncryptedFrame(payload, ks, frameIndex)
	default:
		return nil, fmt.Errorf("blte: %w: %q", tacterr.ErrBlteUnknownMode, mode)
	}
}
