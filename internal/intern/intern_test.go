package intern

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternReturnsStableHandleForSamePath(t *testing.T) {
	table := NewTable()
	a := table.Intern("/src/main.js")
	b := table.Intern("/src/main.js")
	require.Equal(t, a, b)
	require.Equal(t, "/src/main.js", table.String(a))
}

func TestInternDistinctPathsGetDistinctHandles(t *testing.T) {
	table := NewTable()
	a := table.Intern("/src/a.js")
	b := table.Intern("/src/b.js")
	require.NotEqual(t, a, b)
}

func TestZeroValuePathIsInvalid(t *testing.T) {
	var p Path
	require.False(t, p.Valid())
}

func TestCompactRemovesEntriesReleasedBackToBaseline(t *testing.T) {
	table := NewTable()
	p := table.Intern("/src/orphan.js") // ref count 1 (baseline)
	table.Intern("/src/orphan.js")      // a second edge references it: ref count 2
	table.Release(p)                   // the edge is dropped: back to baseline 1

	table.Compact()
	require.Equal(t, "", table.String(p), "a path with only the baseline reference should be compacted away")
}

func TestCompactKeepsEntriesWithLiveExternalReferences(t *testing.T) {
	table := NewTable()
	p := table.Intern("/src/used.js")
	table.Intern("/src/used.js") // a live dependency edge still holds a second reference

	table.Compact()
	require.Equal(t, "/src/used.js", table.String(p), "a path with a live external reference must survive compaction")
}

func TestConcurrentInternIsRaceFree(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Intern("/src/shared.js")
		}()
	}
	wg.Wait()
	require.Equal(t, 1, table.Len())
}
