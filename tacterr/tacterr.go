// Package tacterr defines the recoverable error kinds shared across the
// TACT core (spec.md §7). Most callers should match with errors.Is/errors.As
// rather than string comparison, following the teacher's
// compactindex36.ErrNotFound convention.
package tacterr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrX) at the call
// site so context survives while errors.Is keeps working.
var (
	// ErrBadMagic marks a file whose leading magic bytes don't match the
	// expected container (BLTE, encoding table header).
	ErrBadMagic = errors.New("bad magic")

	// ErrUnsupportedVersion marks a recognized container with a version
	// byte this implementation does not know how to read.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrBlteChecksumMismatch marks a BLTE frame whose streamed MD5 does
	// not match its recorded checksum. Fatal for the single record.
	ErrBlteChecksumMismatch = errors.New("blte checksum mismatch")

	// ErrBlteUnknownMode marks a BLTE frame byte outside {N,Z,F,E}.
	ErrBlteUnknownMode = errors.New("blte unknown frame mode")

	// ErrDuplicateEKey marks a record enqueued under an EKey that is
	// already staged. The first record is kept and the second is dropped;
	// callers such as cas.CasWriter.Put discard this error rather than
	// treating it as a failure.
	ErrDuplicateEKey = errors.New("duplicate ekey")
)

// MissingKeyError reports a BLTE encrypted frame referencing a key name the
// caller's KeyService does not recognize (spec.md §4.2, §7).
type MissingKeyError struct {
	KeyName [8]byte
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing decryption key %x", e.KeyName)
}

// CorruptError marks a page/footer checksum mismatch or a truncated file.
// Fatal for the single file it names, never for the surrounding container
// (spec.md §4.5, §7): a directory scan that hits a CorruptError for one
// index must still load the rest.
type CorruptError struct {
	Where  string // file or section name
	Detail string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt %s: %s", e.Where, e.Detail)
}

// NewCorrupt builds a CorruptError, formatting Detail like fmt.Sprintf.
func NewCorrupt(where, format string, args ...any) *CorruptError {
	return &CorruptError{Where: where, Detail: fmt.Sprintf(format, args...)}
}
