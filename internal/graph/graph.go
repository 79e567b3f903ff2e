// Package graph implements C3, the module graph: spec.md §3–§4.3. Nodes are
// keyed by interned path; the graph tracks dependencies, dependents,
// metadata, and invalidation flags, and exposes the invalidate/topo_order
// operations the watcher and bundler rely on. Grounded on the shape of
// esbuild's internal/graph/module.go, simplified to the single ModuleNode
// record spec.md names (no scope-hoisting symbol tables).
package graph

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bcentdev/soku/internal/builderrors"
	"github.com/bcentdev/soku/internal/cache"
	"github.com/bcentdev/soku/internal/intern"
	"github.com/bcentdev/soku/internal/logger"
	"github.com/bcentdev/soku/internal/resolver"
)

type ModuleType uint8

const (
	TypeUnknown ModuleType = iota
	TypeJavaScript
	TypeTypeScript
	TypeJSX
	TypeTSX
	TypeCSS
	TypeJSON
	TypeWASM
	TypeAsset
)

// ModuleTypeFromPath derives a ModuleType from a path extension, per
// spec.md §3 ("derived from path extension; immutable per node").
func ModuleTypeFromPath(path string) ModuleType {
	ext := extOf(path)
	switch ext {
	case ".js", ".mjs", ".cjs":
		return TypeJavaScript
	case ".ts":
		return TypeTypeScript
	case ".jsx":
		return TypeJSX
	case ".tsx":
		return TypeTSX
	case ".css":
		return TypeCSS
	case ".json":
		return TypeJSON
	case ".wasm":
		return TypeWASM
	case "":
		return TypeUnknown
	default:
		return TypeAsset
	}
}

func extOf(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			dot = i
			break
		}
		if path[i] == '/' {
			break
		}
	}
	if dot < 0 {
		return ""
	}
	return path[dot:]
}

type ImportKind uint8

const (
	ImportStatic ImportKind = iota
	ImportDynamic
	ImportCSS
	ImportAsset
)

type ImportRecord struct {
	Specifier string
	Kind      ImportKind
	ByteStart int
	ByteEnd   int
	HasRange  bool
	// ImportedNames is the set of export names this edge actually binds from
	// Specifier (spec.md §4.5 step 2's (target, imported_name) pair): "default"
	// for a default import, each pre-"as" name for "import { a, b as c }",
	// "*" for a namespace import or "export * from" re-export (can't narrow
	// usage to specific names), and empty for a side-effect-only
	// "import './x'" with no bindings at all.
	ImportedNames []string
}

// TransformResult is what a Processor produces for one module; it's the
// (code, imports, exports) triple spec.md §4.4 names, plus the side-effect
// and source-map metadata the bundler and cache need.
type TransformResult struct {
	Code           string
	Imports        []ImportRecord
	Exports        []string
	HasSideEffects bool
	SourceMap      []byte
}

// Processor is the dependency the graph delegates per-module transformation
// to (C4). Kept as an interface here, rather than importing internal/transform
// directly, so internal/transform can in turn depend on graph's types
// without an import cycle.
type Processor interface {
	Transform(path string, moduleType ModuleType, source []byte) (TransformResult, error)
}

// Resolve is the dependency the graph uses to turn an ImportRecord's
// specifier into an absolute path (C2).
type Resolve interface {
	Resolve(specifier string, importer string) (resolver.Result, error)
}

// ResolvedImport pairs one ImportRecord with the node it resolved to, so the
// shaker can propagate usage per imported name (spec.md §4.5 step 2:
// "(target, imported_name)") instead of marking a whole dependency used
// just because any of its exports is.
type ResolvedImport struct {
	Record ImportRecord
	Target intern.Path
}

type ModuleNode struct {
	ID          intern.Path
	ModuleType  ModuleType
	ContentHash cache.Hash
	Imports     []ImportRecord
	Exports     []string

	mu              sync.Mutex
	dependencies    []intern.Path // unique resolved targets; parallel to resolvedImports minus duplicates
	resolvedImports []ResolvedImport
	dependents      map[intern.Path]bool
	isEntry         bool
	invalidated     bool
	lastProcessed   time.Time
	hasSideEffects  bool
	cacheKey        cache.CacheKey
}

func (n *ModuleNode) IsEntry() bool      { return n.isEntry }
func (n *ModuleNode) Invalidated() bool  { return n.invalidated }
func (n *ModuleNode) HasSideEffects() bool { return n.hasSideEffects }
func (n *ModuleNode) CacheKey() cache.CacheKey { return n.cacheKey }
func (n *ModuleNode) LastProcessed() time.Time { return n.lastProcessed }

func (n *ModuleNode) Dependencies() []intern.Path {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]intern.Path, len(n.dependencies))
	copy(out, n.dependencies)
	return out
}

// ResolvedImports returns every import edge this module resolved on its
// last successful Process, each paired with the target it resolved to.
func (n *ModuleNode) ResolvedImports() []ResolvedImport {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ResolvedImport, len(n.resolvedImports))
	copy(out, n.resolvedImports)
	return out
}

func (n *ModuleNode) Dependents() []intern.Path {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]intern.Path, 0, len(n.dependents))
	for d := range n.dependents {
		out = append(out, d)
	}
	return out
}

// Graph owns the node table and the read/process/invalidate/topo_order
// operations of spec.md §4.3.
type Graph struct {
	Intern    *intern.Table
	Resolver  Resolve
	Processor Processor
	Cache     *cache.Cache
	Log       *logger.Log
	ReadFile  func(path string) ([]byte, error)

	mu    sync.RWMutex
	nodes map[intern.Path]*ModuleNode
}

func New(intern_ *intern.Table, res Resolve, proc Processor, c *cache.Cache, log *logger.Log, readFile func(string) ([]byte, error)) *Graph {
	return &Graph{
		Intern:    intern_,
		Resolver:  res,
		Processor: proc,
		Cache:     c,
		Log:       log,
		ReadFile:  readFile,
		nodes:     make(map[intern.Path]*ModuleNode),
	}
}

// getOrCreate returns the node for path, creating an unprocessed stub if
// this is the first time the path has been seen.
func (g *Graph) getOrCreate(path intern.Path) *ModuleNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[path]; ok {
		return n
	}
	n := &ModuleNode{
		ID:          path,
		dependents:  make(map[intern.Path]bool),
		invalidated: true,
	}
	g.nodes[path] = n
	return n
}

func (g *Graph) Get(path intern.Path) (*ModuleNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[path]
	return n, ok
}

// AddEntry registers absPath as an entry module and returns its handle.
func (g *Graph) AddEntry(absPath string) intern.Path {
	id := g.Intern.Intern(absPath)
	n := g.getOrCreate(id)
	n.mu.Lock()
	n.isEntry = true
	n.mu.Unlock()
	return id
}

// Process implements spec.md §4.3 process(): read, hash, consult the cache,
// delegate to the Processor on a miss, and update dependencies/dependents
// bidirectionally (invariant 1).
func (g *Graph) Process(id intern.Path) error {
	n := g.getOrCreate(id)
	path := g.Intern.String(id)

	data, err := g.ReadFile(path)
	if err != nil {
		g.Log.AddError(nil, (&builderrors.BuildError{Message: "reading " + path, Cause: &builderrors.IOError{Path: path, Err: err}}).Error())
		return g.markFailed(n, id)
	}

	contentHash := cache.ComputeContentHash(data)
	moduleType := ModuleTypeFromPath(path)

	key := cache.ComputeKey(cache.KeyInputs{AbsPath: path, ContentHash: contentHash})

	var result TransformResult
	if entry, ok := g.Cache.Get(key); ok && entry.ContentHash == contentHash {
		result = TransformResult{
			Code:           entry.TransformedCode,
			HasSideEffects: entry.Metadata.HasSideEffects,
			SourceMap:      entry.SourceMap,
		}
		result.Imports = decodeImports(entry.Metadata.Imports)
		result.Exports = entry.Metadata.Exports
	} else {
		result, err = g.Processor.Transform(path, moduleType, data)
		if err != nil {
			// Per-module transform failures are collected as diagnostics
			// rather than aborting the whole ProcessAll pass (spec.md §7:
			// "the user sees every problem at once"), matching the
			// resolution-error handling below.
			g.Log.AddError(nil, err.Error())
			return g.markFailed(n, id)
		}
		g.Cache.Set(key, &cache.Entry{
			ContentHash:     contentHash,
			TransformedCode: result.Code,
			SourceMap:       result.SourceMap,
			Metadata: cache.Metadata{
				Exports:        result.Exports,
				Imports:        encodeImports(result.Imports),
				ModuleType:     moduleTypeName(moduleType),
				HasSideEffects: result.HasSideEffects,
				IsEntry:        n.isEntry,
			},
		})
	}

	if n.isEntry {
		g.Cache.Pin(key)
	}

	deps := make([]intern.Path, 0, len(result.Imports))
	resolved := make([]ResolvedImport, 0, len(result.Imports))
	seen := make(map[intern.Path]bool)
	for _, imp := range result.Imports {
		res, err := g.Resolver.Resolve(imp.Specifier, path)
		if err != nil {
			g.Log.AddError(nil, err.Error())
			continue
		}
		if res.External {
			continue
		}
		depID := g.Intern.Intern(res.Path)
		resolved = append(resolved, ResolvedImport{Record: imp, Target: depID})
		if seen[depID] {
			continue // invariant 2: no duplicates
		}
		seen[depID] = true
		deps = append(deps, depID)

		dep := g.getOrCreate(depID)
		dep.mu.Lock()
		dep.dependents[id] = true
		dep.mu.Unlock()
	}

	n.mu.Lock()
	// Drop this node from dependencies we no longer have, to keep invariant 1
	// correct across a re-process after an edit that removed an import.
	old := n.dependencies
	n.dependencies = deps
	n.resolvedImports = resolved
	n.ModuleType = moduleType
	n.ContentHash = contentHash
	n.Imports = result.Imports
	n.Exports = result.Exports
	n.hasSideEffects = result.HasSideEffects
	n.invalidated = false
	n.lastProcessed = processedNow()
	n.cacheKey = key
	n.mu.Unlock()

	for _, old := range old {
		if !seen[old] {
			if dep, ok := g.Get(old); ok {
				dep.mu.Lock()
				delete(dep.dependents, id)
				dep.mu.Unlock()
			}
			g.Intern.Release(old)
		}
	}

	return nil
}

// markFailed records id as processed-but-empty after an unreadable file or
// failed transform, so ProcessAll's frontier doesn't keep retrying it and
// the bundler simply omits it from concatenation (it has no code and no
// dependencies).
func (g *Graph) markFailed(n *ModuleNode, id intern.Path) error {
	n.mu.Lock()
	old := n.dependencies
	n.dependencies = nil
	n.resolvedImports = nil
	n.invalidated = false
	n.lastProcessed = processedNow()
	n.mu.Unlock()

	for _, dep := range old {
		if d, ok := g.Get(dep); ok {
			d.mu.Lock()
			delete(d.dependents, id)
			d.mu.Unlock()
		}
		g.Intern.Release(dep)
	}
	return nil
}

// processedNow exists so tests can observe a monotonically increasing
// timestamp without depending on wall-clock resolution guarantees.
var processedNow = time.Now

// ProcessAll processes every currently-unprocessed or invalidated node
// reachable from roots, in parallel, bounded by GOMAXPROCS (spec.md §5:
// "CPU-bound transforms run on a thread pool sized to hardware threads").
// Modules discovered mid-pass (a newly-resolved dependency) are folded into
// the same pass until the frontier is empty.
func (g *Graph) ProcessAll(ctx context.Context, roots []intern.Path) error {
	frontier := append([]intern.Path(nil), roots...)
	visited := make(map[intern.Path]bool)

	for len(frontier) > 0 {
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(max(1, runtime.GOMAXPROCS(0)))

		batch := frontier
		frontier = nil
		var mu sync.Mutex

		for _, id := range batch {
			if visited[id] {
				continue
			}
			visited[id] = true
			id := id
			group.Go(func() error {
				if err := g.checkCtx(gctx); err != nil {
					return err
				}
				if err := g.Process(id); err != nil {
					return err
				}
				if n, ok := g.Get(id); ok {
					mu.Lock()
					for _, dep := range n.Dependencies() {
						if !visited[dep] {
							frontier = append(frontier, dep)
						}
					}
					mu.Unlock()
				}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Invalidate implements spec.md §4.3 invalidate(): BFS from the changed
// node through dependents, marking each affected node invalidated and
// dropping its cache entry. Returns exactly the set reachable via
// dependents* (spec.md §8 invariant 4).
func (g *Graph) Invalidate(path intern.Path) []intern.Path {
	var affected []intern.Path
	queue := []intern.Path{path}
	seen := map[intern.Path]bool{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		n, ok := g.Get(cur)
		if !ok {
			continue
		}
		n.mu.Lock()
		n.invalidated = true
		key := n.cacheKey
		n.mu.Unlock()
		if key != "" {
			g.Cache.Invalidate(key)
		}
		affected = append(affected, cur)

		for _, dependent := range n.Dependents() {
			if !seen[dependent] {
				queue = append(queue, dependent)
			}
		}
	}
	return affected
}

// TopoOrder implements spec.md §4.3 topo_order(): depth-first post-order
// with a temporary-mark set for cycle detection. A back edge does not fail
// the build; it's recorded so the caller can see which edges were broken.
func (g *Graph) TopoOrder(roots []intern.Path) (order []intern.Path, backEdges []struct{ From, To intern.Path }) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[intern.Path]int)

	var visit func(id intern.Path)
	visit = func(id intern.Path) {
		switch state[id] {
		case done:
			return
		case visiting:
			return // cycle: the caller recorded the back edge at the call site
		}
		state[id] = visiting
		if n, ok := g.Get(id); ok {
			for _, dep := range n.Dependencies() {
				if state[dep] == visiting {
					backEdges = append(backEdges, struct{ From, To intern.Path }{id, dep})
					continue
				}
				visit(dep)
			}
		}
		state[id] = done
		order = append(order, id)
	}

	for _, root := range roots {
		visit(root)
	}
	return order, backEdges
}

// AllModules returns a read snapshot of every known node, per spec.md §4.3.
func (g *Graph) AllModules() []*ModuleNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ModuleNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Code returns a processed node's transformed output (and source map, if
// any) by looking up its cache entry. The bundler (C6) uses this instead of
// holding its own copy of every module's code, since C1 is already the
// single source of truth for transformed output.
func (g *Graph) Code(id intern.Path) (code string, sourceMap []byte, ok bool) {
	node, exists := g.Get(id)
	if !exists || node.invalidated {
		return "", nil, false
	}
	entry, found := g.Cache.Get(node.CacheKey())
	if !found {
		return "", nil, false
	}
	return entry.TransformedCode, entry.SourceMap, true
}

func moduleTypeName(t ModuleType) string {
	switch t {
	case TypeJavaScript:
		return "javascript"
	case TypeTypeScript:
		return "typescript"
	case TypeJSX:
		return "jsx"
	case TypeTSX:
		return "tsx"
	case TypeCSS:
		return "css"
	case TypeJSON:
		return "json"
	case TypeWASM:
		return "wasm"
	case TypeAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// encodeImports/decodeImports round-trip ImportRecord specifiers and their
// imported names through the cache's Metadata.Imports slice (kind/range
// aren't needed to recompute dependencies or export usage on a cache hit).
func encodeImports(records []ImportRecord) []cache.ImportMeta {
	out := make([]cache.ImportMeta, len(records))
	for i, r := range records {
		out[i] = cache.ImportMeta{Specifier: r.Specifier, Names: r.ImportedNames}
	}
	return out
}

func decodeImports(metas []cache.ImportMeta) []ImportRecord {
	out := make([]ImportRecord, len(metas))
	for i, m := range metas {
		out[i] = ImportRecord{Specifier: m.Specifier, ImportedNames: m.Names}
	}
	return out
}
