// Package config holds the small set of tunables the archive/index engine
// exposes, following the teacher's plain-struct-literal style (no viper or
// env parsing in the core packages; CLI flags are layered on top in
// cmd/tactcas via urfave/cli/v2).
package config

// ArchiveMaxBytes is the default cap on a single archive blob's size
// (256,000,000 bytes), matching TACT's real-world archive packing limit.
const ArchiveMaxBytes = 256_000_000

// IndexPageSizeKB is the default page size used when writing a new
// ".index" file.
const IndexPageSizeKB = 4

// GCLowUsePercent mirrors gsfaprimary's defaultLowUsePercent: the
// percentage of an archive that must be superseded/stale before it is a
// compaction candidate.
const GCLowUsePercent = 85

// Config bundles the tunables a Store/Engine is constructed with.
type Config struct {
	// ArchiveMaxBytes caps the size of any single archive blob.
	ArchiveMaxBytes int64
	// IndexPageSizeKB sets the page size used for newly written index files.
	IndexPageSizeKB int
	// UseMmap controls whether archive blobs and index files are opened
	// via golang.org/x/exp/mmap (mirrors the teacher's
	// useMmapForLocalIndexes flag) instead of plain os.File reads.
	UseMmap bool
	// GCLowUsePercent is the staleness threshold (0-100) at or above which
	// an archive becomes a compaction candidate.
	GCLowUsePercent int64
}

// Default returns the out-of-the-box tunables.
func Default() Config {
	return Config{
		ArchiveMaxBytes: ArchiveMaxBytes,
		IndexPageSizeKB: IndexPageSizeKB,
		UseMmap:         true,
		GCLowUsePercent: GCLowUsePercent,
	}
}
