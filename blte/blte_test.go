package blte

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/rpcpool/tact-cas/hash"
	"github.com/stretchr/testify/require"
)

// S1: Encode the 5-byte plaintext "Hello" with ESpec "n" (no compression).
func TestEncode_S1_RawSingleFrame(t *testing.T) {
	espec, err := ParseESpec("n")
	require.NoError(t, err)

	res, err := Encode([]byte("Hello"), espec, nil)
	require.NoError(t, err)

	want := []byte{0x42, 0x4C, 0x54, 0x45, 0x00, 0x00, 0x00, 0x00, 0x4E, 0x48, 0x65, 0x6C, 0x6C, 0x6F}
	require.Equal(t, want, res.Encoded)

	require.Equal(t, hash.Sum([]byte("Hello")), res.CKey)
	require.Equal(t, "8b1a9953c4611296a827abf8c47804d7", res.CKey.String())
	require.Equal(t, hash.Sum(res.Encoded), res.EKey)
}

// S2: Encode 3 x 1MiB random payloads with ESpec "b:{1M*,z}".
func TestEncode_S2_MultiZlibFrame(t *testing.T) {
	espec, err := ParseESpec("b:{1M*,z}")
	require.NoError(t, err)

	plain := make([]byte, 3*1<<20)
	_, err = rand.Read(plain)
	require.NoError(t, err)

	res, err := Encode(plain, espec, nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(plain)), res.PlainSize)

	r, err := Open(bytes.NewReader(res.Encoded), nil)
	require.NoError(t, err)
	require.Equal(t, int64(len(plain)), r.Len())
	require.Len(t, r.frames, 3)
	for _, fh := range r.frames {
		require.EqualValues(t, 1<<20, fh.PlainSize)
	}

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plain, got)

	// Each encoded frame must begin with 'Z'.
	encR := bytes.NewReader(res.Encoded)
	for _, off := range r.frameOffs {
		var b [1]byte
		_, err := encR.ReadAt(b[:], off)
		require.NoError(t, err)
		require.Equal(t, byte('Z'), b[0])
	}
}

// Round-trip property (spec.md §8 invariant 6): decode(encode(x)) == x for
// a variety of sizes and specs, and the EKey is stable across runs.
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		espec string
		size  int
	}{
		{"empty-raw", "n", 0},
		{"small-raw", "n", 13},
		{"small-zlib", "z", 4096},
		{"multi-block", "b:{64K*,z}", 200_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			espec, err := ParseESpec(tc.espec)
			require.NoError(t, err)
			plain := make([]byte, tc.size)
			_, _ = rand.Read(plain)

			res1, err := Encode(plain, espec, nil)
			require.NoError(t, err)
			res2, err := Encode(plain, espec, nil)
			require.NoError(t, err)
			require.Equal(t, res1.EKey, res2.EKey, "EKey must be stable across runs")

			r, err := Open(bytes.NewReader(res1.Encoded), nil)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, plain, got)
		})
	}
}

func TestOpen_BadMagic(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("NOTBLTE!")), nil)
	require.Error(t, err)
}

func TestChecksumMismatch(t *testing.T) {
	espec, err := ParseESpec("b:{1M*,z}")
	require.NoError(t, err)
	plain := make([]byte, 2*1<<20)
	res, err := Encode(plain, espec, nil)
	require.NoError(t, err)

	corrupted := append([]byte{}, res.Encoded...)
	// Flip a byte inside the last frame's payload.
	corrupted[len(corrupted)-10] ^= 0xFF

	r, err := Open(bytes.NewReader(corrupted), nil)
	if err == nil {
		_, err = io.ReadAll(r)
	}
	require.Error(t, err)
}

func TestEncryptedFrame_RoundTrip(t *testing.T) {
	var key [16]byte
	copy(key[:], "0123456789abcdef")
	var keyName [8]byte
	copy(keyName[:], "mykey001")
	ks := staticKeyService{keyName: key}

	enc := &encryptSpec{KeyName: keyName, IV: [4]byte{1, 2, 3, 4}, Algo: AlgoSalsa20, Key: key}
	espec, err := ParseESpec("n")
	require.NoError(t, err)
	plain := []byte("the quick brown fox jumps over the lazy dog")

	res, err := Encode(plain, espec, enc)
	require.NoError(t, err)

	r, err := Open(bytes.NewReader(res.Encoded), ks)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestEncryptedFrame_MissingKey(t *testing.T) {
	var key [16]byte
	var keyName [8]byte
	copy(keyName[:], "mykey001")
	enc := &encryptSpec{KeyName: keyName, IV: [4]byte{1, 2, 3, 4}, Algo: AlgoSalsa20, Key: key}
	espec, err := ParseESpec("n")
	require.NoError(t, err)

	res, err := Encode([]byte("secret"), espec, enc)
	require.NoError(t, err)

	_, err = Open(bytes.NewReader(res.Encoded), emptyKeyService{})
	require.Error(t, err)
}

type staticKeyService struct {
	keyName [16]byte
}

func (s staticKeyService) Lookup(name [8]byte) ([16]byte, bool) {
	return s.keyName, true
}

type emptyKeyService struct{}

func (emptyKeyService) Lookup(name [8]byte) ([16]byte, bool) { return [16]byte{}, false }
