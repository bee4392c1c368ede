package archive

import (
	"context"
	"os"
	"testing"

	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/hash"
	"github.com/rpcpool/tact-cas/tacterr"
	"github.com/stretchr/testify/require"
)

func mkEKey(b byte) hash.EKey {
	var k hash.EKey
	k[0] = b
	return k
}

func TestEnqueue_DuplicateDropped(t *testing.T) {
	eng := New(config.Default())
	rec := Record{EKey: mkEKey(1), Encoded: []byte("abc")}
	require.NoError(t, eng.Enqueue(rec))
	err := eng.Enqueue(rec)
	require.ErrorIs(t, err, tacterr.ErrDuplicateEKey)
	require.Equal(t, 1, eng.Len())
}

func TestPartition_SealsBeforeExceedingCap(t *testing.T) {
	records := []Record{
		{EKey: mkEKey(1), Encoded: make([]byte, 60)},
		{EKey: mkEKey(2), Encoded: make([]byte, 60)},
		{EKey: mkEKey(3), Encoded: make([]byte, 60)},
	}
	batches := partition(records, 100)
	require.Len(t, batches, 3, "each record alone exceeds 100 once paired with another")
	require.Len(t, batches[0], 1)

	batches2 := partition(records, 150)
	require.Len(t, batches2, 2)
	require.Len(t, batches2[0], 2)
	require.Len(t, batches2[1], 1)
}

func TestPartition_OversizedRecordGetsOwnArchive(t *testing.T) {
	records := []Record{
		{EKey: mkEKey(1), Encoded: make([]byte, 500)},
		{EKey: mkEKey(2), Encoded: make([]byte, 10)},
	}
	batches := partition(records, 100)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	require.Equal(t, 500, len(batches[0][0].Encoded))
}

func TestSaveAndLookup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMmap = false

	eng := New(cfg)
	want := map[hash.EKey][]byte{}
	for i := byte(1); i <= 10; i++ {
		k := mkEKey(i)
		data := []byte{i, i, i, i}
		require.NoError(t, eng.Enqueue(Record{EKey: k, Encoded: data}))
		want[k] = data
	}

	results, err := Save(ctx, dir, eng)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	store, err := Open(dir, cfg)
	require.NoError(t, err)
	defer store.Close()
	require.Equal(t, len(results), store.NumArchives())

	for k, data := range want {
		got, ok, err := store.Lookup(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, data, got)
	}

	_, ok, err := store.Lookup(mkEKey(200))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSave_SealsMultipleArchivesAtCap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMmap = false
	cfg.ArchiveMaxBytes = 100

	eng := New(cfg)
	for i := byte(1); i <= 4; i++ {
		require.NoError(t, eng.Enqueue(Record{EKey: mkEKey(i), Encoded: make([]byte, 40)}))
	}
	results, err := Save(ctx, dir, eng)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.LessOrEqual(t, r.Bytes, cfg.ArchiveMaxBytes)
	}
}

func TestCompact_RemovesStaleArchive(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMmap = false
	cfg.GCLowUsePercent = 50

	eng := New(cfg)
	liveKey := mkEKey(1)
	staleKey := mkEKey(2)
	require.NoError(t, eng.Enqueue(Record{EKey: liveKey, Encoded: []byte("live")}))
	require.NoError(t, eng.Enqueue(Record{EKey: staleKey, Encoded: []byte("stale")}))
	_, err := Save(ctx, dir, eng)
	require.NoError(t, err)

	isLive := func(k hash.EKey) bool { return k == liveKey }
	reclaimed, err := Compact(ctx, dir, cfg, isLive)
	require.NoError(t, err)
	require.Greater(t, reclaimed, int64(0))

	store, err := Open(dir, cfg)
	require.NoError(t, err)
	defer store.Close()

	got, ok, err := store.Lookup(liveKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("live"), got)

	_, ok, err = store.Lookup(staleKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpen_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, config.Default())
	require.NoError(t, err)
	require.Equal(t, 0, store.NumArchives())
	require.NoFileExists(t, dir+string(os.PathSeparator)+manifestFileName)
}
