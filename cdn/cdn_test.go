package cdn

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/tact-cas/hash"
	"github.com/stretchr/testify/require"
)

func TestLocalSource_LayoutAndLookup(t *testing.T) {
	dir := t.TempDir()
	ekey := hash.Sum([]byte("payload"))
	full := filepath.Join(dir, layoutPath(KindData, ekey.String()))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("encoded-bytes"), 0o644))

	src := NewLocalSource(dir, KindData, false)
	data, ok, err := src.Lookup(ekey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("encoded-bytes"), data)

	_, ok, err = src.Lookup(hash.Sum([]byte("missing")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHTTPSource_Lookup(t *testing.T) {
	ekey := hash.Sum([]byte("payload"))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/"+layoutPath(KindData, ekey.String()) {
			w.Write([]byte("remote-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	src := NewHTTPSource(nil, ts.URL, KindData)
	data, ok, err := src.Lookup(ekey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("remote-bytes"), data)

	_, ok, err = src.Lookup(hash.Sum([]byte("missing")))
	require.NoError(t, err)
	require.False(t, ok)
}
