// Package blte implements the BLTE (Block Table Encoded) streaming
// container: every archived TACT object is BLTE-wrapped (spec.md §4.2).
package blte

import (
	"github.com/rpcpool/tact-cas/hash"
)

// Magic is the 4-byte BLTE container signature.
var Magic = [4]byte{'B', 'L', 'T', 'E'}

// Mode is the first byte of an encoded frame, selecting how the frame's
// payload maps to plaintext.
type Mode byte

const (
	// ModeRaw copies the plaintext verbatim.
	ModeRaw Mode = 'N'
	// ModeZlib deflates the plaintext with zlib.
	ModeZlib Mode = 'Z'
	// ModeRecursive nests another complete BLTE stream.
	ModeRecursive Mode = 'F'
	// ModeEncrypted wraps a Salsa20- or RC4-encrypted sub-frame.
	ModeEncrypted Mode = 'E'
)

// EncryptionAlgo is the one-byte sub-mode inside an ModeEncrypted frame.
type EncryptionAlgo byte

const (
	// AlgoSalsa20 selects Salsa20 stream cipher decryption.
	AlgoSalsa20 EncryptionAlgo = 'S'
	// AlgoARC4 selects ARC4 (RC4) stream cipher decryption.
	AlgoARC4 EncryptionAlgo = 'A'
)

// KeyService resolves an 8-byte BLTE key name to its 16-byte decryption
// key. It is a caller-supplied collaborator (spec.md §6); the blte package
// never stores or caches keys itself.
type KeyService interface {
	Lookup(keyName [8]byte) (key [16]byte, ok bool)
}

// frameHeader is one entry of the frame table, present only when the
// container's header_size field is non-zero.
type frameHeader struct {
	EncodedSize uint32
	PlainSize   uint32
	Checksum    [16]byte // MD5 of the encoded frame bytes
}

// Result is what Encode returns: the finished container bytes plus the two
// keys that identify it (spec.md §3: CASRecord's CKey/EKey pair).
type Result struct {
	Encoded []byte
	CKey    hash.CKey
	EKey    hash.EKey
	// PlainSize is the total decoded length across all frames.
	PlainSize int64
}
