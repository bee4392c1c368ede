package cas

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/tact-cas/archive"
	"github.com/rpcpool/tact-cas/blte"
	"github.com/rpcpool/tact-cas/config"
	"github.com/rpcpool/tact-cas/encoding"
	"github.com/stretchr/testify/require"
)

func TestCasWriterReader_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMmap = false

	w := NewWriter(cfg)
	espec, err := blte.ParseESpec("z")
	require.NoError(t, err)

	plain := []byte("hello, TACT archive world")
	ckey, ekey, err := w.Put(plain, espec)
	require.NoError(t, err)

	encodingEKey, err := w.Commit(ctx, dir)
	require.NoError(t, err)
	require.False(t, encodingEKey.IsEmpty())

	store, err := archive.Open(dir, cfg)
	require.NoError(t, err)
	defer store.Close()

	f, err := os.Open(filepath.Join(dir, encodingEKey.String()))
	require.NoError(t, err)
	defer f.Close()

	table, err := encoding.Open(f, nil)
	require.NoError(t, err)

	r := NewReader(table, store, nil)

	byCKey, err := r.OpenByCKey(ctx, ckey)
	require.NoError(t, err)
	got, err := io.ReadAll(byCKey)
	require.NoError(t, err)
	require.Equal(t, plain, got)

	byEKey, err := r.OpenByEKey(ctx, ekey)
	require.NoError(t, err)
	got2, err := io.ReadAll(byEKey)
	require.NoError(t, err)
	require.Equal(t, plain, got2)
}

func TestCasReader_NotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMmap = false

	store, err := archive.Open(dir, cfg)
	require.NoError(t, err)
	defer store.Close()

	table := encoding.New()
	r := NewReader(table, store, nil)

	var missing [16]byte
	missing[0] = 0xFF
	_, err = r.OpenByEKey(ctx, missing)
	require.Error(t, err)
}
