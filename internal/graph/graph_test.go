package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/cache"
	"github.com/bcentdev/soku/internal/intern"
	"github.com/bcentdev/soku/internal/logger"
	"github.com/bcentdev/soku/internal/resolver"
)

// stubProcessor returns each module's source unchanged with no imports or
// exports, standing in for internal/transform in these graph-only tests.
type stubProcessor struct{}

func (stubProcessor) Transform(path string, moduleType ModuleType, source []byte) (TransformResult, error) {
	return TransformResult{Code: string(source), HasSideEffects: true}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestGraph(t *testing.T, root string) *Graph {
	t.Helper()
	log := logger.NewLog(logger.LevelError)
	c, err := cache.New(log, "", 0)
	require.NoError(t, err)
	res := resolver.New(resolver.Config{Root: root})
	return New(intern.NewTable(), res, stubProcessor{}, c, log, os.ReadFile)
}

func TestInvariantBidirectionalDependents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.js"), "")
	writeFile(t, filepath.Join(root, "b.js"), "")

	g := newTestGraph(t, root)
	a := g.AddEntry(filepath.Join(root, "a.js"))
	b := g.Intern.Intern(filepath.Join(root, "b.js"))

	// Simulate a depending on b without a real parser: process a, then
	// manually attach b as a dependency the way Process() would.
	require.NoError(t, g.Process(a))
	nodeA, _ := g.Get(a)
	nodeA.mu.Lock()
	nodeA.dependencies = []intern.Path{b}
	nodeA.mu.Unlock()
	nodeB := g.getOrCreate(b)
	nodeB.mu.Lock()
	nodeB.dependents[a] = true
	nodeB.mu.Unlock()

	for _, dep := range nodeA.Dependencies() {
		depNode, ok := g.Get(dep)
		require.True(t, ok)
		found := false
		for _, dependent := range depNode.Dependents() {
			if dependent == a {
				found = true
			}
		}
		require.True(t, found, "invariant 1 violated: a not found in b.dependents")
	}
}

func TestInvalidateReturnsReverseReachableSet(t *testing.T) {
	root := t.TempDir()
	g := newTestGraph(t, root)

	a := g.Intern.Intern(filepath.Join(root, "a.js"))
	b := g.Intern.Intern(filepath.Join(root, "b.js"))
	c := g.Intern.Intern(filepath.Join(root, "c.js"))

	// c depends on b, b depends on a: invalidating a must affect a, b, c.
	na := g.getOrCreate(a)
	nb := g.getOrCreate(b)
	nc := g.getOrCreate(c)
	na.dependents[b] = true
	nb.dependencies = []intern.Path{a}
	nb.dependents[c] = true
	nc.dependencies = []intern.Path{b}

	affected := g.Invalidate(a)
	require.ElementsMatch(t, []intern.Path{a, b, c}, affected)
}

func TestTopoOrderIsValidForDAG(t *testing.T) {
	root := t.TempDir()
	g := newTestGraph(t, root)

	a := g.Intern.Intern(filepath.Join(root, "a.js"))
	b := g.Intern.Intern(filepath.Join(root, "b.js"))
	c := g.Intern.Intern(filepath.Join(root, "c.js"))

	na := g.getOrCreate(a)
	nb := g.getOrCreate(b)
	na.dependencies = []intern.Path{b}
	nb.dependencies = []intern.Path{c}
	g.getOrCreate(c)

	order, backEdges := g.TopoOrder([]intern.Path{a})
	require.Empty(t, backEdges)
	require.Equal(t, []intern.Path{c, b, a}, order)
}

func TestTopoOrderBreaksCycles(t *testing.T) {
	root := t.TempDir()
	g := newTestGraph(t, root)

	a := g.Intern.Intern(filepath.Join(root, "a.js"))
	b := g.Intern.Intern(filepath.Join(root, "b.js"))

	na := g.getOrCreate(a)
	nb := g.getOrCreate(b)
	na.dependencies = []intern.Path{b}
	nb.dependencies = []intern.Path{a}

	order, backEdges := g.TopoOrder([]intern.Path{a})
	require.Len(t, order, 2)
	require.Len(t, backEdges, 1)
}

func TestSelfImportProcessesOnce(t *testing.T) {
	root := t.TempDir()
	g := newTestGraph(t, root)

	a := g.Intern.Intern(filepath.Join(root, "a.js"))
	na := g.getOrCreate(a)
	na.dependencies = []intern.Path{a}

	order, _ := g.TopoOrder([]intern.Path{a})
	count := 0
	for _, id := range order {
		if id == a {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestProcessAllConcurrent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "hello")
	g := newTestGraph(t, root)
	entry := g.AddEntry(filepath.Join(root, "main.js"))

	require.NoError(t, g.ProcessAll(context.Background(), []intern.Path{entry}))
	node, ok := g.Get(entry)
	require.True(t, ok)
	require.False(t, node.Invalidated())
	require.Equal(t, TypeJavaScript, node.ModuleType)
	require.Empty(t, node.Exports)
}

func TestModuleTypeFromExtension(t *testing.T) {
	require.Equal(t, TypeJavaScript, ModuleTypeFromPath("/p/a.js"))
	require.Equal(t, TypeTypeScript, ModuleTypeFromPath("/p/a.ts"))
	require.Equal(t, TypeCSS, ModuleTypeFromPath("/p/a.css"))
	require.Equal(t, TypeAsset, ModuleTypeFromPath("/p/logo.png"))
}
