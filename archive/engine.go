package archive

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/internal/obs"
	"github.com/rpcpool/tact-cas/tacterr"
	"github.com/rpcpool/tact-cas/tactindex"
	"golang.org/x/sync/errgroup"
)

// writeConcurrency caps how many archive batches Save writes to disk at
// once, mirroring the teacher's epochLoadConcurrency-style errgroup limit.
const writeConcurrency = 4

// Record is one BLTE-encoded payload staged for packing into an archive.
type Record struct {
	CKey    hash.CKey
	EKey    hash.EKey
	Encoded []byte
}

// Engine accumulates staged Records and partitions them into size-capped
// archives on Save, following gsfaprimary's role as a multi-file primary
// store fed by a single writer.
//
// The staging map is sharded by xxhash.Sum64(EKey) into small buckets: a
// fast accelerator key that avoids scanning full 16-byte EKeys on every
// enqueue, falling back to an exact EKey compare only within a bucket.
type Engine struct {
	cfg     config.Config
	buckets map[uint64][]Record
	count   int
}

// New returns an empty Engine configured with cfg.
func New(cfg config.Config) *Engine {
	if cfg.ArchiveMaxBytes <= 0 {
		cfg.ArchiveMaxBytes = config.ArchiveMaxBytes
	}
	if cfg.IndexPageSizeKB <= 0 {
		cfg.IndexPageSizeKB = config.IndexPageSizeKB
	}
	return &Engine{cfg: cfg, buckets: make(map[uint64][]Record)}
}

func bucketKey(ekey hash.EKey) uint64 {
	return xxhash.Sum64(ekey[:])
}

// Enqueue stages rec for the next Save. Re-enqueuing an EKey already
// staged is a no-op (TACT content addressing guarantees identical bytes
// under the same EKey); Enqueue returns tacterr.ErrDuplicateEKey in that
// case purely so callers can count it, it is not a failure.
func (e *Engine) Enqueue(rec Record) error {
	k := bucketKey(rec.EKey)
	for _, existing := range e.buckets[k] {
		if existing.EKey == rec.EKey {
			return tacterr.ErrDuplicateEKey
		}
	}
	e.buckets[k] = append(e.buckets[k], rec)
	e.count++
	return nil
}

// Len returns the number of distinct staged records.
func (e *Engine) Len() int { return e.count }

// sortedRecords returns every staged record ordered by ascending EKey, the
// order tactindex.Write requires.
func (e *Engine) sortedRecords() []Record {
	out := make([]Record, 0, e.count)
	for _, bucket := range e.buckets {
		out = append(out, bucket...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EKey.Less(out[j].EKey) })
	return out
}

// ArchiveResult names one sealed archive blob and its companion index.
type ArchiveResult struct {
	BlobChecksum  hash.Hash
	IndexChecksum hash.Hash
	NumRecords    int
	Bytes         int64
}

// partition groups sorted records into archive-sized batches: a new batch
// is sealed whenever the next record would push the current one over
// cfg.ArchiveMaxBytes and the current batch is non-empty; an oversized
// single record gets its own archive.
func partition(records []Record, maxBytes int64) [][]Record {
	var archives [][]Record
	var cur []Record
	var curBytes int64
	for _, r := range records {
		sz := int64(len(r.Encoded))
		if curBytes > 0 && curBytes+sz > maxBytes {
			archives = append(archives, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, r)
		curBytes += sz
	}
	if len(cur) > 0 {
		archives = append(archives, cur)
	}
	return archives
}

// Save flushes all staged records into archive blob + index pairs under
// dir, using uuid-suffixed temp names and atomic rename (no torn files on
// crash, per spec.md §5). Batches are written concurrently (bounded by
// writeConcurrency, in the teacher's errgroup.Group/SetLimit style) since
// each batch's blob and index are independent files; the archives.json
// manifest entries are appended one at a time, only after every batch has
// landed, to avoid concurrent read-modify-write on that single sidecar. It
// returns one
// ArchiveResult per sealed archive, in the same order as the input batches.
func Save(ctx context.Context, dir string, e *Engine) ([]ArchiveResult, error) {
	ctx, span := obs.StartSpan(ctx, "archive.save")
	defer span.End()

	var results []ArchiveResult
	err := obs.MeasureExecutionTime(ctx, span, "partition_and_write", func(ctx context.Context) error {
		records := e.sortedRecords()
		if len(records) == 0 {
			return nil
		}
		batches := partition(records, e.cfg.ArchiveMaxBytes)

		results = make([]ArchiveResult, len(batches))
		entries := make([]manifestEntry, len(batches))

		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(writeConcurrency)
		for i, batch := range batches {
			i, batch := i, batch
			g.Go(func() error {
				res, entry, err := writeArchive(dir, batch, e.cfg)
				if err != nil {
					return err
				}
				results[i] = res
				entries[i] = entry
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, entry := range entries {
			if err := appendManifest(dir, entry); err != nil {
				return err
			}
			obs.ArchivesSealed.Inc()
		}
		log.Infow("archive save complete", "archives", len(results), "records", len(records))
		return nil
	})
	return results, err
}

// writeArchive writes one archive blob (concatenated BLTE-encoded records)
// and its companion IndexFile, both via tmp-name-then-rename, returning the
// manifestEntry pairing them for the caller to record.
func writeArchive(dir string, batch []Record, cfg config.Config) (ArchiveResult, manifestEntry, error) {
	var body []byte
	entries := make([]tactindex.Entry, 0, len(batch))
	var offset uint32
	for _, r := range batch {
		entries = append(entries, tactindex.Entry{
			EKey:   r.EKey,
			Size:   uint32(len(r.Encoded)),
			Offset: offset,
		})
		body = append(body, r.Encoded...)
		offset += uint32(len(r.Encoded))
	}

	blobChecksum := hash.Sum(body)
	tmpName := fmt.Sprintf(".%s.tmp", uuid.NewString())
	tmpPath := dir + string(os.PathSeparator) + tmpName
	if err := os.WriteFile(tmpPath, body, 0o644); err != nil {
		return ArchiveResult{}, manifestEntry{}, fmt.Errorf("archive: write blob temp: %w", err)
	}
	finalBlobPath := dir + string(os.PathSeparator) + blobChecksum.String()
	if err := os.Rename(tmpPath, finalBlobPath); err != nil {
		_ = os.Remove(tmpPath)
		return ArchiveResult{}, manifestEntry{}, fmt.Errorf("archive: rename blob into place: %w", err)
	}

	idx, err := tactindex.Write(dir, entries, tactindex.KindData, false, cfg.IndexPageSizeKB)
	if err != nil {
		return ArchiveResult{}, manifestEntry{}, fmt.Errorf("archive: write index: %w", err)
	}

	obs.BytesPacked.Add(float64(len(body)))
	return ArchiveResult{
			BlobChecksum:  blobChecksum,
			IndexChecksum: idx.Checksum(),
			NumRecords:    len(batch),
			Bytes:         int64(len(body)),
		}, manifestEntry{
			Blob:  blobChecksum.String(),
			Index: tactindex.FileName(idx.Checksum()),
		}, nil
}
