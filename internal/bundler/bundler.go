// Package bundler implements C6, spec.md §4.6: topological concatenation
// of a processed module graph into one or more output artifacts, with
// optional source maps, minification, and code splitting.
//
// Grounded on esbuild's internal/bundler/bundler.go and linker.go for the
// topo-order-then-concatenate shape (scope-hoisting is out of reach
// without esbuild's own AST, so this wraps each bundle in a single IIFE
// instead of renaming colliding top-level identifiers) and
// internal/sourcemap for VLQ mapping emission, adapted into
// internal/sourcemap in this repo.
package bundler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bcentdev/soku/internal/fsx"
	"github.com/bcentdev/soku/internal/graph"
	"github.com/bcentdev/soku/internal/intern"
	"github.com/bcentdev/soku/internal/jsadapter"
	"github.com/bcentdev/soku/internal/shaker"
	"github.com/bcentdev/soku/internal/sourcemap"
)

type OutputFile struct {
	Path    string
	Content []byte
	Size    int
}

type SourceMapMode uint8

const (
	SourceMapOff SourceMapMode = iota
	SourceMapExternal
	SourceMapInline
)

type Options struct {
	OutDir      string
	SourceMaps  SourceMapMode
	Minify      bool
	MaxChunkSize        int // bytes; 0 disables size-based splitting
	MinModulesPerChunk  int // 0 disables the shared-chunk merge
}

type Bundler struct {
	g    *graph.Graph
	fs   fsx.FS
	opts Options
}

func New(g *graph.Graph, fs fsx.FS, opts Options) *Bundler {
	return &Bundler{g: g, fs: fs, opts: opts}
}

// BundleEntry implements the single-entry procedure of spec.md §4.6: topo
// order, concatenate, scope-wrap, optional source map and minification,
// write. stats may be nil (tree shaking is optional); when present, a
// module the fixed point never reached at all is skipped from
// concatenation entirely, and a module it did reach has its unused named
// exports pruned per spec.md §4.5 step 2 before concatenation rather than
// carried through wholesale.
func (b *Bundler) BundleEntry(entry intern.Path, entryName string, stats *shaker.TreeShakingStats) ([]OutputFile, error) {
	order, _ := b.g.TopoOrder([]intern.Path{entry}) // cycles are broken, not fatal (spec.md §4.3)

	var jsModules, cssModules []intern.Path
	for _, id := range order {
		node, ok := b.g.Get(id)
		if !ok {
			continue
		}
		if stats != nil && id != entry {
			// A module absent from UsedExportsByModule was never marked
			// reachable by the fixed point at all — skip it outright. A
			// module present but with zero named exports (every CSS module,
			// any side-effect-only JS module) IS reachable; len(used)==0
			// would wrongly treat it the same as unreachable.
			if _, reachable := stats.UsedExportsByModule[id]; !reachable {
				continue
			}
		}
		switch node.ModuleType {
		case graph.TypeCSS:
			cssModules = append(cssModules, id)
		default:
			jsModules = append(jsModules, id)
		}
	}

	var outputs []OutputFile

	if len(jsModules) > 0 {
		out, err := b.bundleJS(jsModules, entryName, stats)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out...)
	}
	if len(cssModules) > 0 {
		out, err := b.bundleCSS(cssModules, entryName)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out...)
	}

	return outputs, nil
}

func (b *Bundler) bundleJS(modules []intern.Path, entryName string, stats *shaker.TreeShakingStats) ([]OutputFile, error) {
	var body strings.Builder
	smBuilder := sourcemap.NewBuilder(entryName+".js", "")
	embedMaps := b.opts.SourceMaps != SourceMapOff

	for _, id := range modules {
		code, _, ok := b.g.Code(id)
		if !ok {
			continue
		}
		path := b.g.Intern.String(id)
		body.WriteString(fmt.Sprintf("// module: %s\n", path))

		if stats != nil {
			if node, ok := b.g.Get(id); ok && len(node.Exports) > 0 {
				used := make(map[string]bool, len(stats.UsedExportsByModule[id]))
				for _, name := range stats.UsedExportsByModule[id] {
					used[name] = true
				}
				code = jsadapter.PruneUnusedExports(code, jsKindFor(node.ModuleType), node.Exports, used)
			}
		}

		srcIndex := smBuilder.AddSource(path, code, embedMaps)
		for i := 0; i < strings.Count(code, "\n")+1; i++ {
			smBuilder.AddLine(srcIndex, i)
		}

		body.WriteString(code)
		if !strings.HasSuffix(code, "\n") {
			body.WriteString("\n")
		}
	}

	wrapped := "(function(){\n" + body.String() + "})();\n"

	if b.opts.Minify {
		wrapped = jsadapter.Minify(wrapped)
	}

	outPath := b.fs.Join(b.opts.OutDir, entryName+".js")
	content := wrapped

	if b.opts.SourceMaps != SourceMapOff {
		m := smBuilder.Build()
		mapJSON, err := encodeMapJSON(m)
		if err != nil {
			return nil, err
		}
		switch b.opts.SourceMaps {
		case SourceMapInline:
			content += "//# sourceMappingURL=" + sourcemap.DataURL(mapJSON) + "\n"
			return []OutputFile{b.write(outPath, content)}, nil
		case SourceMapExternal:
			mapName := entryName + ".js.map"
			content += "//# sourceMappingURL=" + mapName + "\n"
			mapPath := b.fs.Join(b.opts.OutDir, mapName)
			return []OutputFile{
				b.write(outPath, content),
				b.write(mapPath, string(mapJSON)),
			}, nil
		}
	}

	return []OutputFile{b.write(outPath, content)}, nil
}

// jsKindFor maps a graph.ModuleType onto the jsadapter.Kind its source was
// parsed as, so PruneUnusedExports's second pass uses the same grammar.
func jsKindFor(t graph.ModuleType) jsadapter.Kind {
	switch t {
	case graph.TypeTypeScript:
		return jsadapter.KindTS
	case graph.TypeJSX:
		return jsadapter.KindJSX
	case graph.TypeTSX:
		return jsadapter.KindTSX
	default:
		return jsadapter.KindJS
	}
}

func (b *Bundler) bundleCSS(modules []intern.Path, entryName string) ([]OutputFile, error) {
	var body strings.Builder
	for i, id := range modules {
		code, _, ok := b.g.Code(id)
		if !ok {
			continue
		}
		if i > 0 {
			body.WriteString("\n")
		}
		body.WriteString(code)
	}
	outPath := b.fs.Join(b.opts.OutDir, entryName+".css")
	return []OutputFile{b.write(outPath, body.String())}, nil
}

func (b *Bundler) write(path, content string) OutputFile {
	data := []byte(content)
	_ = b.fs.WriteFile(path, data)
	return OutputFile{Path: path, Content: data, Size: len(data)}
}

func encodeMapJSON(m sourcemap.Map) ([]byte, error) {
	return json.Marshal(m)
}

// Chunk is one code-splitting output unit (spec.md §4.6: vendor / common /
// per-entry / shared chunks).
type Chunk struct {
	Name    string
	Modules []intern.Path
}

// SplitChunks implements the code-splitting procedure of spec.md §4.6. It
// does not write output; it only partitions the module set, leaving
// rendering to repeated calls into bundleJS-shaped logic per chunk name.
func SplitChunks(g *graph.Graph, entries map[string]intern.Path, opts Options) []Chunk {
	entryOrder := make(map[string][]intern.Path, len(entries))
	moduleEntryCount := make(map[intern.Path]int)

	for name, entry := range entries {
		order, _ := g.TopoOrder([]intern.Path{entry})
		entryOrder[name] = order
		for _, id := range order {
			moduleEntryCount[id]++
		}
	}

	vendor := map[intern.Path]bool{}
	common := map[intern.Path]bool{}
	assigned := map[intern.Path]bool{}

	for id := range moduleEntryCount {
		path := g.Intern.String(id)
		if strings.Contains(path, "node_modules") {
			vendor[id] = true
			assigned[id] = true
		}
	}
	for id, count := range moduleEntryCount {
		if assigned[id] {
			continue
		}
		if count >= 2 {
			common[id] = true
			assigned[id] = true
		}
	}

	var chunks []Chunk
	if len(vendor) > 0 {
		chunks = append(chunks, Chunk{Name: "vendor", Modules: sortedKeys(g, vendor)})
	}
	if len(common) > 0 {
		chunks = append(chunks, Chunk{Name: "common", Modules: sortedKeys(g, common)})
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var rest []intern.Path
		for _, id := range entryOrder[name] {
			if !assigned[id] {
				rest = append(rest, id)
				assigned[id] = true
			}
		}
		chunks = append(chunks, Chunk{Name: name, Modules: rest})
	}

	chunks = splitBySize(g, chunks, opts.MaxChunkSize)
	chunks = mergeSmallChunks(chunks, opts.MinModulesPerChunk)

	return chunks
}

func sortedKeys(g *graph.Graph, m map[intern.Path]bool) []intern.Path {
	out := make([]intern.Path, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.Intern.String(out[i]) < g.Intern.String(out[j]) })
	return out
}

// splitBySize splits a chunk along module boundaries into <chunk>-0,
// <chunk>-1, … whenever its estimated size exceeds maxSize, per spec.md
// §4.6. Size is estimated from each module's cached transformed code
// length.
func splitBySize(g *graph.Graph, chunks []Chunk, maxSize int) []Chunk {
	if maxSize <= 0 {
		return chunks
	}

	var out []Chunk
	for _, c := range chunks {
		var parts [][]intern.Path
		var current []intern.Path
		currentSize := 0

		for _, id := range c.Modules {
			code, _, _ := g.Code(id)
			size := len(code)
			if currentSize > 0 && currentSize+size > maxSize {
				parts = append(parts, current)
				current = nil
				currentSize = 0
			}
			current = append(current, id)
			currentSize += size
		}
		if len(current) > 0 {
			parts = append(parts, current)
		}

		if len(parts) <= 1 {
			out = append(out, c)
			continue
		}
		for i, part := range parts {
			out = append(out, Chunk{Name: fmt.Sprintf("%s-%d", c.Name, i), Modules: part})
		}
	}
	return out
}

// mergeSmallChunks merges any chunk with fewer than minModules modules —
// other than "vendor" or an entry chunk named "main" — into a single
// "shared" chunk, per spec.md §4.6.
func mergeSmallChunks(chunks []Chunk, minModules int) []Chunk {
	if minModules <= 0 {
		return chunks
	}

	var out []Chunk
	var shared []intern.Path
	for _, c := range chunks {
		if len(c.Modules) < minModules && c.Name != "vendor" && c.Name != "main" {
			shared = append(shared, c.Modules...)
			continue
		}
		out = append(out, c)
	}
	if len(shared) > 0 {
		out = append(out, Chunk{Name: "shared", Modules: shared})
	}
	return out
}
