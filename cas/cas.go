// Package cas is the thin orchestrator spec.md §9 calls "the Repo": it
// wires together encoding, archive/tactindex and blte to expose
// CasReader/CasWriter, the two external-facing operations (spec.md §6).
// It mirrors the teacher's gsfa read/write façade role — a small package
// that delegates to lower-level stores rather than reimplementing them.
package cas

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rpcpool/tact-cas/archive"
	"github.com/rpcpool/tact-cas/blte"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/encoding"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/internal/obs"
)

// BlobSource resolves an EKey to its encoded (BLTE) bytes; satisfied by
// *archive.Store and, for the supplemental external surface, cdn's
// BlobSource implementations.
type BlobSource interface {
	Lookup(ekey hash.EKey) ([]byte, bool, error)
}

// CasReader resolves content by CKey or EKey and returns a streaming
// BLTE-decoded reader over the plaintext.
type CasReader struct {
	table *encoding.Table
	blobs BlobSource
	keys  blte.KeyService
}

// NewReader builds a CasReader over an already-loaded encoding table and
// blob source.
func NewReader(table *encoding.Table, blobs BlobSource, keys blte.KeyService) *CasReader {
	return &CasReader{table: table, blobs: blobs, keys: keys}
}

// OpenByCKey resolves ckey through the encoding table to an EKey, fetches
// its encoded bytes, and returns a BLTE-decoded stream. When a CKey maps
// to more than one EKey (multiple ESpec variants of the same content),
// the first recorded EKey is used.
func (r *CasReader) OpenByCKey(ctx context.Context, ckey hash.CKey) (*blte.Reader, error) {
	_, span := obs.StartSpan(ctx, "cas.open_by_ckey")
	defer span.End()

	rec, ok := r.table.TryGetCKey(ckey)
	if !ok {
		err := fmt.Errorf("cas: ckey %s: %w", ckey, errNotFound)
		obs.RecordError(span, err, "ckey not found")
		return nil, err
	}
	if len(rec.EKeys) == 0 {
		err := fmt.Errorf("cas: ckey %s has no EKeys: %w", ckey, errNotFound)
		obs.RecordError(span, err, "ckey has no EKeys")
		return nil, err
	}
	reader, err := r.OpenByEKey(ctx, rec.EKeys[0])
	obs.RecordError(span, err, "resolve EKey")
	return reader, err
}

// OpenByEKey fetches an encoding key's raw bytes directly and returns a
// BLTE-decoded stream, bypassing the encoding table.
func (r *CasReader) OpenByEKey(ctx context.Context, ekey hash.EKey) (*blte.Reader, error) {
	_, span := obs.StartSpan(ctx, "cas.open_by_ekey")
	defer span.End()

	data, ok, err := r.blobs.Lookup(ekey)
	if err != nil {
		err = fmt.Errorf("cas: lookup ekey %s: %w", ekey, err)
		obs.RecordError(span, err, "blob lookup failed")
		return nil, err
	}
	if !ok {
		err := fmt.Errorf("cas: ekey %s: %w", ekey, errNotFound)
		obs.RecordError(span, err, "ekey not found")
		return nil, err
	}
	reader, err := blte.Open(bytes.NewReader(data), r.keys)
	if err != nil {
		obs.BlteDecodeErrors.Inc()
		err = fmt.Errorf("cas: decode ekey %s: %w", ekey, err)
		obs.RecordError(span, err, "blte decode failed")
		return nil, err
	}
	return reader, nil
}

var errNotFound = fmt.Errorf("not found")

// CasWriter accepts plaintext payloads, BLTE-encodes and stages them, and
// commits the accumulated encoding table + archives to a directory.
type CasWriter struct {
	table *encoding.Table
	eng   *archive.Engine
	cfg   config.Config
}

// NewWriter builds an empty CasWriter with cfg's tunables.
func NewWriter(cfg config.Config) *CasWriter {
	return &CasWriter{table: encoding.New(), eng: archive.New(cfg), cfg: cfg}
}

// Put BLTE-encodes plain under espec (blte.DefaultESpec(len(plain)) is a
// reasonable default), records it in the encoding table, and stages it
// for the next Commit. It returns the content key and encoding key.
func (w *CasWriter) Put(plain []byte, espec blte.ESpec) (hash.CKey, hash.EKey, error) {
	res, err := blte.Encode(plain, espec, nil)
	if err != nil {
		return hash.Empty, hash.Empty, fmt.Errorf("cas: blte encode: %w", err)
	}
	w.table.Add(res.CKey, res.EKey, uint64(res.PlainSize), uint64(len(res.Encoded)), espec.Raw())
	if err := w.eng.Enqueue(archive.Record{CKey: res.CKey, EKey: res.EKey, Encoded: res.Encoded}); err != nil {
		// Duplicate EKeys are expected when the same content is Put
		// twice; not fatal to the write (see tacterr.ErrDuplicateEKey).
		_ = err
	}
	return res.CKey, res.EKey, nil
}

// Commit flushes all staged records to dir's archives and writes the
// encoding table itself as a CAS object, returning its EKey — the handle
// a manifest would reference as EncodingEKey (spec.md §6).
func (w *CasWriter) Commit(ctx context.Context, dir string) (hash.EKey, error) {
	ctx, span := obs.StartSpan(ctx, "cas.commit")
	defer span.End()

	var ekey hash.EKey
	err := obs.MeasureExecutionTime(ctx, span, "commit", func(ctx context.Context) error {
		if _, err := archive.Save(ctx, dir, w.eng); err != nil {
			return fmt.Errorf("cas: commit archives: %w", err)
		}
		saved, err := encoding.Save(dir, w.table, "z")
		if err != nil {
			return fmt.Errorf("cas: commit encoding table: %w", err)
		}
		ekey = saved
		return nil
	})
	return ekey, err
}
