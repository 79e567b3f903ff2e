package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/logger"
)

func TestComputeKeyIsDeterministicAndSensitiveToEveryInput(t *testing.T) {
	base := KeyInputs{
		AbsPath:     "/src/main.js",
		ContentHash: ComputeContentHash([]byte("const x = 1;")),
		Conditions:  []string{"browser", "import"},
		Defines:     map[string]string{"NODE_ENV": "production"},
		Target:      "es2020",
	}

	require.Equal(t, ComputeKey(base), ComputeKey(base))

	withDifferentContent := base
	withDifferentContent.ContentHash = ComputeContentHash([]byte("const x = 2;"))
	require.NotEqual(t, ComputeKey(base), ComputeKey(withDifferentContent))

	reordered := base
	reordered.Conditions = []string{"import", "browser"}
	require.Equal(t, ComputeKey(base), ComputeKey(reordered), "condition order must not affect the key")

	withDifferentDefine := base
	withDifferentDefine.Defines = map[string]string{"NODE_ENV": "development"}
	require.NotEqual(t, ComputeKey(base), ComputeKey(withDifferentDefine))
}

func TestSetThenGetRoundTripsThroughMemoryTier(t *testing.T) {
	c, err := New(logger.NewLog(logger.LevelError), "", 0)
	require.NoError(t, err)

	key := CacheKey("abc123")
	entry := &Entry{TransformedCode: "console.log(1)", Metadata: Metadata{ModuleType: "js"}}
	c.Set(key, entry)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "console.log(1)", got.TransformedCode)
}

func TestSetThenGetRoundTripsThroughDiskTierAfterMemoryEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := New(logger.NewLog(logger.LevelError), dir, 0)
	require.NoError(t, err)

	key := CacheKey("disk-key")
	entry := &Entry{ContentHash: ComputeContentHash([]byte("x")), TransformedCode: "var x=1;"}
	c.Set(key, entry)

	diskPath := c.diskPath(key)
	require.FileExists(t, diskPath)

	c.mem.Remove(key) // simulate eviction from the in-memory tier only
	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "var x=1;", got.TransformedCode)
	require.Equal(t, entry.ContentHash, got.ContentHash, "content hash must survive the binary round trip")
}

func TestPinnedEntriesSurviveEvictIfOverBudget(t *testing.T) {
	c, err := New(logger.NewLog(logger.LevelError), "", 10) // tiny budget forces eviction
	require.NoError(t, err)

	entryKey := CacheKey("entry")
	c.Pin(entryKey)
	c.Set(entryKey, &Entry{TransformedCode: "0123456789"})

	c.Set(CacheKey("other"), &Entry{TransformedCode: "0123456789"})

	_, ok := c.Get(entryKey)
	require.True(t, ok, "pinned entries must never be evicted")
}

func TestInvalidateRemovesFromBothTiers(t *testing.T) {
	dir := t.TempDir()
	c, err := New(logger.NewLog(logger.LevelError), dir, 0)
	require.NoError(t, err)

	key := CacheKey("gone")
	c.Set(key, &Entry{TransformedCode: "1"})
	c.Invalidate(key)

	_, ok := c.Get(key)
	require.False(t, ok)
	require.NoFileExists(t, c.diskPath(key))
}

func TestCorruptDiskEntryIsTreatedAsMissNotPanic(t *testing.T) {
	dir := t.TempDir()
	c, err := New(logger.NewLog(logger.LevelWarning), dir, 0)
	require.NoError(t, err)

	key := CacheKey("bad")
	_, err = decodeDisk([]byte{0, 0, 0})
	require.Error(t, err, "truncated header must be rejected")

	diskPath := c.diskPath(key)
	require.NoError(t, os.MkdirAll(filepath.Dir(diskPath), 0o755))
	require.NoError(t, os.WriteFile(diskPath, []byte{0, 0, 0}, 0o644))

	_, ok := c.Get(key)
	require.False(t, ok)
}
