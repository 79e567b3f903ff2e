package fsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRealWriteFileCreatesParentDirectories(t *testing.T) {
	root := t.TempDir()
	fs := NewReal()
	path := filepath.Join(root, "nested", "dir", "out.js")

	require.NoError(t, fs.WriteFile(path, []byte("hi")))

	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestMockReadFileMissingPathReturnsNotExist(t *testing.T) {
	m := NewMock(map[string]string{"/src/a.js": "content"})
	_, err := m.ReadFile("/src/b.js")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMockReadDirListsImmediateChildrenSorted(t *testing.T) {
	m := NewMock(map[string]string{
		"/src/b.js":        "1",
		"/src/a.js":        "2",
		"/src/nested/c.js": "3",
	})
	names, err := m.ReadDir("/src")
	require.NoError(t, err)
	require.Equal(t, []string{"a.js", "b.js"}, names)
}

func TestMockWriteFileThenReadFileRoundTrips(t *testing.T) {
	m := NewMock(nil)
	require.NoError(t, m.WriteFile("/out/bundle.js", []byte("var x=1;")))

	data, err := m.ReadFile("/out/bundle.js")
	require.NoError(t, err)
	require.Equal(t, "var x=1;", string(data))
}

func TestMockStatDistinguishesFilesAndDirectories(t *testing.T) {
	m := NewMock(map[string]string{"/src/a.js": "xyz"})

	fileInfo, err := m.Stat("/src/a.js")
	require.NoError(t, err)
	require.False(t, fileInfo.IsDir())
	require.Equal(t, int64(3), fileInfo.Size())

	dirInfo, err := m.Stat("/src")
	require.NoError(t, err)
	require.True(t, dirInfo.IsDir())

	_, err = m.Stat("/missing")
	require.ErrorIs(t, err, os.ErrNotExist)
}
