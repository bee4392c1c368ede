package encoding

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/tact-cas/hash"
	"github.com/stretchr/testify/require"
)

func fileReaderAt(dir, name string) (*os.File, error) {
	return os.Open(filepath.Join(dir, name))
}

func mk(b byte) hash.Hash {
	var h hash.Hash
	h[0] = b
	return h
}

func TestTable_AddAndLookup(t *testing.T) {
	tbl := New()
	c1, e1 := mk(1), mk(10)
	tbl.Add(c1, e1, 1000, 400, "z")

	rec, ok := tbl.TryGetCKey(c1)
	require.True(t, ok)
	require.EqualValues(t, 1000, rec.PlainSize)
	require.Equal(t, []hash.EKey{e1}, rec.EKeys)

	espec, ok := tbl.TryGetESpec(e1)
	require.True(t, ok)
	require.Equal(t, "z", espec)

	_, ok = tbl.TryGetCKey(mk(99))
	require.False(t, ok)
}

func TestTable_MultipleEKeysPerCKey(t *testing.T) {
	tbl := New()
	c1 := mk(1)
	e1, e2 := mk(10), mk(11)
	tbl.Add(c1, e1, 1000, 400, "z")
	tbl.Add(c1, e2, 1000, 450, "n")

	rec, ok := tbl.TryGetCKey(c1)
	require.True(t, ok)
	require.ElementsMatch(t, []hash.EKey{e1, e2}, rec.EKeys)
}

func TestSaveOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	tbl := New()
	for i := byte(1); i <= 20; i++ {
		tbl.Add(mk(i), mk(i+100), uint64(i)*1000, uint64(i)*400, "z")
	}

	ekey, err := Save(dir, tbl, "n")
	require.NoError(t, err)

	f, err := fileReaderAt(dir, ekey.String())
	require.NoError(t, err)
	defer f.Close()

	got, err := Open(f, nil)
	require.NoError(t, err)

	for i := byte(1); i <= 20; i++ {
		rec, ok := got.TryGetCKey(mk(i))
		require.True(t, ok, "ckey %d", i)
		require.EqualValues(t, uint64(i)*1000, rec.PlainSize)
		require.Equal(t, []hash.EKey{mk(i + 100)}, rec.EKeys)

		espec, ok := got.TryGetESpec(mk(i + 100))
		require.True(t, ok)
		require.Equal(t, "z", espec)
	}
}

func TestDecode_BadMagic(t *testing.T) {
	_, err := decode(bytes.Repeat([]byte{0xAA}, 64))
	require.Error(t, err)
}

func TestDecode_TooShort(t *testing.T) {
	_, err := decode([]byte{1, 2, 3})
	require.Error(t, err)
}
