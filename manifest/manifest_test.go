package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_EncodingAndRoot(t *testing.T) {
	text := `# build config
root = aabbccdd00112233445566778899aabb
encoding = aabbccdd00112233445566778899aabb eeff00112233445566778899aabbccdd
build-name = WOW-12345patch1.2.3
`
	v, err := Parse(strings.NewReader(text))
	require.NoError(t, err)

	root, ok := v.RootCKey()
	require.True(t, ok)
	require.Equal(t, "aabbccdd00112233445566778899aabb", root)

	enc, ok := v.EncodingEKey()
	require.True(t, ok)
	require.Equal(t, "eeff00112233445566778899aabbccdd", enc)

	name, ok := v.Get("build-name")
	require.True(t, ok)
	require.Equal(t, "WOW-12345patch1.2.3", name)

	_, ok = v.Get("missing")
	require.False(t, ok)
}

func TestParse_MalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-kv-line"))
	require.Error(t, err)
}
