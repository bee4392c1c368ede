package tactindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/tact-cas/hash"
	"github.com/stretchr/testify/require"
)

func mkEntry(b byte, size, offset uint32) Entry {
	var e Entry
	e.EKey[0] = b
	e.Size = size
	e.Offset = offset
	return e
}

func TestWrite_RejectsUnsortedEntries(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(5, 10, 0), mkEntry(2, 10, 10)}
	_, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.Error(t, err)
}

func TestWrite_RejectsDuplicateEntries(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(5, 10, 0), mkEntry(5, 10, 10)}
	_, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.Error(t, err)
}

func TestWriteOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	var entries []Entry
	for i := byte(1); i <= 200; i++ {
		entries = append(entries, mkEntry(i, uint32(i)*7+1, uint32(i)*100))
	}

	idx, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.NoError(t, err)
	require.False(t, idx.Footer().IsGroup)
	require.Equal(t, KindData, idx.Footer().Kind)

	base := filepath.Base(idx.Path())
	require.Equal(t, FileName(idx.Checksum()), base)

	for _, e := range entries {
		got, ok, err := idx.TryGet(e.EKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, e, got)
	}

	var missing hash.EKey
	missing[0] = 0xFE
	_, ok, err := idx.TryGet(missing)
	require.NoError(t, err)
	require.False(t, ok)

	all, err := idx.All()
	require.NoError(t, err)
	require.Len(t, all, len(entries))
}

func TestWriteOpen_SpansMultiplePages(t *testing.T) {
	dir := t.TempDir()
	// 4KB pages / 24-byte entries ~= 170 entries per page; force several.
	var entries []Entry
	for i := 0; i < 500; i++ {
		var e Entry
		e.EKey[0] = byte(i >> 8)
		e.EKey[1] = byte(i)
		e.Size = uint32(i + 1)
		e.Offset = uint32(i * 37)
		entries = append(entries, e)
	}

	idx, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.NoError(t, err)
	require.Greater(t, idx.Footer().NumPages, uint32(1))

	for _, e := range entries {
		got, ok, err := idx.TryGet(e.EKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, e.Size, got.Size)
		require.Equal(t, e.Offset, got.Offset)
	}
}

func TestOpen_DetectsPageCorruption(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(1, 10, 0), mkEntry(2, 20, 10)}
	idx, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.NoError(t, err)

	path := idx.Path()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(path, false)
	require.Error(t, err)
}

func TestOpen_DetectsFilenameMismatch(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(1, 10, 0)}
	idx, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.NoError(t, err)

	wrongPath := filepath.Join(dir, "0000000000000000000000000000000a.index")
	require.NoError(t, os.Rename(idx.Path(), wrongPath))

	_, err = Open(wrongPath, false)
	require.Error(t, err)
}

func TestOpen_RejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadbeef.index")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))

	_, err := Open(path, false)
	require.Error(t, err)
}

func TestIsGroupFlag_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(9, 1, 0)}
	idx, err := Write(dir, entries, KindData, true, DefaultPageSizeKB)
	require.NoError(t, err)
	require.True(t, idx.Footer().IsGroup)

	reopened, err := Open(idx.Path(), false)
	require.NoError(t, err)
	require.True(t, reopened.Footer().IsGroup)
}

func TestOpenGroupIndex(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(3, 1, 0), mkEntry(9, 2, 1)}

	groupPath, err := Write(dir, entries, KindData, true, DefaultPageSizeKB)
	require.NoError(t, err)

	g, err := OpenGroupIndex(groupPath.Path(), false)
	require.NoError(t, err)

	all, err := g.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, ok, err := g.TryGet(entries[0].EKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entries[0], got)
}

func TestOpenGroupIndex_RejectsNonGroupFile(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{mkEntry(3, 1, 0)}
	idx, err := Write(dir, entries, KindData, false, DefaultPageSizeKB)
	require.NoError(t, err)

	_, err = OpenGroupIndex(idx.Path(), false)
	require.Error(t, err)
}
