package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/hash"
)

// Compact relocates still-live records out of low-use archives and
// deletes the emptied originals, the same reclaim strategy as
// gsfaprimary's GC: an archive whose stale-record percentage is at or
// above cfg.GCLowUsePercent is a compaction candidate; its live records are
// repacked into a fresh archive via Save, and the stale original is
// removed once the replacement is durable on disk.
//
// isLive reports whether the EKey of an archive entry is still reachable
// from the current encoding table; records for which
// isLive returns false are dropped during repacking.
func Compact(ctx context.Context, dir string, cfg config.Config, isLive func(hash.EKey) bool) (int64, error) {
	store, err := Open(dir, cfg)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	var reclaimed int64
	eng := New(cfg)
	var stale []storeEntry

	for _, e := range store.entries {
		all, err := e.idx.All()
		if err != nil {
			log.Warnw("gc: skipping unreadable archive", "path", e.idx.Path(), "err", err)
			continue
		}
		if len(all) == 0 {
			continue
		}
		liveCount := 0
		for _, ent := range all {
			if isLive(ent.EKey) {
				liveCount++
			}
		}
		staleFraction := float64(len(all)-liveCount) / float64(len(all)) * 100
		if staleFraction < float64(cfg.GCLowUsePercent) {
			continue // still well-used, leave in place
		}

		for _, ent := range all {
			if !isLive(ent.EKey) {
				continue
			}
			data, err := e.blob.ReadAt(ent.Offset, ent.Size)
			if err != nil {
				return reclaimed, fmt.Errorf("archive: gc read stale-archive entry: %w", err)
			}
			_ = eng.Enqueue(Record{EKey: ent.EKey, Encoded: data})
		}
		stale = append(stale, e)
		reclaimed += int64(len(all)-liveCount) * 24 // bytes of index-entry overhead reclaimed at minimum
	}

	if len(stale) == 0 {
		return 0, nil
	}

	if eng.Len() > 0 {
		if _, err := Save(ctx, dir, eng); err != nil {
			return reclaimed, fmt.Errorf("archive: gc repack: %w", err)
		}
	}

	m, err := readManifest(dir)
	if err != nil {
		return reclaimed, err
	}
	staleBlobs := make(map[string]bool, len(stale))
	for _, e := range stale {
		staleBlobs[filepath.Base(e.blob.Path())] = true
	}
	kept := m.Entries[:0]
	for _, entry := range m.Entries {
		if !staleBlobs[entry.Blob] {
			kept = append(kept, entry)
		}
	}
	m.Entries = kept
	if err := writeManifestFile(dir, m); err != nil {
		return reclaimed, err
	}

	for _, e := range stale {
		bytesFreed := e.blob.size
		_ = e.blob.Close()
		_ = os.Remove(e.blob.Path())
		_ = os.Remove(e.idx.Path())
		reclaimed += bytesFreed
	}

	log.Infow("gc compaction complete", "stale_archives", len(stale), "reclaimed_bytes", reclaimed)
	return reclaimed, nil
}
