package sourcemap

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEmitsOneSegmentPerLine(t *testing.T) {
	b := NewBuilder("bundle.js", "")
	idx := b.AddSource("/a.js", "const a = 1;", true)
	b.AddLine(idx, 0)
	b.AddLine(idx, 1)
	b.AddLine(idx, 2)

	m := b.Build()
	require.Equal(t, 3, m.Version)
	require.Equal(t, []string{"/a.js"}, m.Sources)
	require.Equal(t, []string{"const a = 1;"}, m.SourcesContent)
	segments := strings.Split(m.Mappings, ";")
	require.Len(t, segments, 3)
	for _, s := range segments {
		require.NotEmpty(t, s)
	}
}

func TestBuildOmitsSourcesContentWhenNotEmbedded(t *testing.T) {
	b := NewBuilder("bundle.js", "")
	idx := b.AddSource("/a.js", "const a = 1;", false)
	b.AddLine(idx, 0)

	m := b.Build()
	require.Empty(t, m.SourcesContent)
}

func TestDataURLIsValidBase64JSON(t *testing.T) {
	payload := []byte(`{"version":3}`)
	url := DataURL(payload)
	require.True(t, strings.HasPrefix(url, "data:application/json;charset=utf-8;base64,"))

	encoded := strings.TrimPrefix(url, "data:application/json;charset=utf-8;base64,")
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestMultiSourceIndexDeltaEncodesCorrectly(t *testing.T) {
	b := NewBuilder("bundle.js", "")
	idxA := b.AddSource("/a.js", "", false)
	idxB := b.AddSource("/b.js", "", false)
	b.AddLine(idxA, 0)
	b.AddLine(idxB, 0)
	b.AddLine(idxA, 1)

	m := b.Build()
	segments := strings.Split(m.Mappings, ";")
	require.Len(t, segments, 3)
}
