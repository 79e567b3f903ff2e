// Package api is soku's public Go entry point, analogous in shape to
// esbuild's pkg/api (a small Options/Result pair around Build, plus a
// long-running Context for watch/dev mode). Grounded on esbuild's
// pkg/api/api.go for the options-struct-returns-result-struct shape, and
// on bennypowers-cem's serve package for the dev-server wiring (watcher →
// rebuild → HMR broadcast).
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bcentdev/soku/internal/bundler"
	"github.com/bcentdev/soku/internal/builderrors"
	"github.com/bcentdev/soku/internal/cache"
	"github.com/bcentdev/soku/internal/config"
	"github.com/bcentdev/soku/internal/fsx"
	"github.com/bcentdev/soku/internal/graph"
	"github.com/bcentdev/soku/internal/hmr"
	"github.com/bcentdev/soku/internal/intern"
	"github.com/bcentdev/soku/internal/logger"
	"github.com/bcentdev/soku/internal/plugin"
	"github.com/bcentdev/soku/internal/resolver"
	"github.com/bcentdev/soku/internal/shaker"
	"github.com/bcentdev/soku/internal/transform"
	"github.com/bcentdev/soku/internal/watcher"
)

// Options configures a single Build call (spec.md §3's BuildConfig plus
// the plugin host, which has no file/CLI representation).
type Options struct {
	config.BuildConfig
	Plugins *plugin.Host
	Env     map[string]string // pre-expanded process.env/import.meta.env values
	LogLevel logger.Level
}

// Message mirrors one collected diagnostic, trimmed to what a CLI or IDE
// integration needs to render it (spec.md §7: "path, span ... kind, and
// human message").
type Message struct {
	Kind logger.Kind
	Text string
	Path string
	Line int
}

// Stats is the SUPPLEMENTED bundle-analysis summary (SPEC_FULL.md):
// esbuild's metafile has no named schema in this spec, so only the
// totals a human skimming a build log would want are reported.
type Stats struct {
	ModuleCount         int
	OutputSizes         map[string]int
	TreeShaking         shaker.TreeShakingStats
	HadTreeShaking      bool
}

// BuildResult is the outcome of Build (spec.md §7: "per-module errors are
// collected into a BuildResult.errors list rather than aborting the whole
// build").
type BuildResult struct {
	Success     bool
	Errors      []Message
	Warnings    []Message
	OutputFiles []bundler.OutputFile
	Stats       Stats
}

// Build runs one full build per spec.md §4's dataflow: resolve+graph
// (C2/C3), transform (C4), tree-shake (C5), bundle (C6), subject to the
// plugin chain (C9) threaded through by opts.Plugins.
func Build(ctx context.Context, opts Options) (BuildResult, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	outDir := opts.OutDir
	if outDir == "" {
		outDir = "dist"
	}

	log := logger.NewLog(opts.LogLevel)
	fs := fsx.NewReal()

	diskDir := ""
	if !opts.DisableCache {
		diskDir = filepath.Join(root, ".soku-cache")
	}
	c, err := cache.New(log, diskDir, 512*1024*1024)
	if err != nil {
		return BuildResult{}, fmt.Errorf("initializing cache: %w", err)
	}

	res := resolver.New(resolver.Config{Root: root, Alias: opts.Alias, External: opts.External})
	pctx := plugin.Context{Root: root, Config: map[string]string{"mode": opts.Mode}}
	tr := transform.New(opts.Plugins, pctx)
	table := intern.NewTable()
	g := graph.New(table, res, tr, c, log, envExpandingReadFile(opts.Env))

	entries, err := discoverEntries(g, root, opts.BuildConfig)
	if err != nil {
		return BuildResult{}, err
	}

	roots := make([]intern.Path, 0, len(entries))
	for _, id := range entries {
		roots = append(roots, id)
	}

	if opts.Plugins != nil {
		modulePaths := make([]string, 0, len(roots))
		for _, id := range roots {
			modulePaths = append(modulePaths, table.String(id))
		}
		if err := opts.Plugins.RunBeforeBuild(pctx); err != nil {
			return BuildResult{}, err
		}
		_ = opts.Plugins.RunOnModulesResolved(modulePaths, pctx)
	}

	if err := g.ProcessAll(ctx, roots); err != nil {
		return BuildResult{}, err
	}

	var stats Stats
	stats.ModuleCount = len(g.AllModules())
	stats.OutputSizes = map[string]int{}

	var shakeStats *shaker.TreeShakingStats
	if opts.EnableTreeShaking {
		s := shaker.New(g).Shake(roots)
		shakeStats = &s
		stats.TreeShaking = s
		stats.HadTreeShaking = true
	}

	bOpts := bundler.Options{
		OutDir:     outDir,
		SourceMaps: sourceMapMode(opts.EnableSourceMaps),
		Minify:     opts.EnableMinification,
	}
	if opts.EnableCodeSplitting && opts.MaxChunkSize > 0 {
		bOpts.MaxChunkSize = opts.MaxChunkSize
	}
	b := bundler.New(g, fs, bOpts)

	var outputs []bundler.OutputFile
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		out, err := b.BundleEntry(entries[name], name, shakeStats)
		if err != nil {
			log.AddError(nil, fmt.Sprintf("bundling %s: %v", name, err))
			continue
		}
		outputs = append(outputs, out...)
		for _, o := range out {
			stats.OutputSizes[o.Path] = o.Size
		}
	}

	result := BuildResult{
		Success:     !log.HasErrors(),
		OutputFiles: outputs,
		Stats:       stats,
	}
	for _, m := range log.Done() {
		msg := toMessage(m)
		if m.Kind == logger.Error {
			result.Errors = append(result.Errors, msg)
		} else if m.Kind == logger.Warning {
			result.Warnings = append(result.Warnings, msg)
		}
	}

	if opts.Plugins != nil {
		summary := plugin.BuildSummary{ModuleCount: stats.ModuleCount}
		for _, e := range result.Errors {
			summary.Errors = append(summary.Errors, e.Text)
		}
		_ = opts.Plugins.RunAfterBuild(pctx, summary)
	}

	return result, nil
}

func toMessage(m logger.Msg) Message {
	msg := Message{Kind: m.Kind, Text: m.Text}
	if m.Location != nil {
		msg.Path = m.Location.File
		msg.Line = m.Location.Line
	}
	return msg
}

func sourceMapMode(enabled bool) bundler.SourceMapMode {
	if !enabled {
		return bundler.SourceMapOff
	}
	return bundler.SourceMapExternal
}

// discoverEntries resolves opts.Entries/opts.Entry to absolute paths, or
// — when neither is set — scans root's top-level for JS/TS files (spec.md
// §3: "if empty, all top-level JS/TS files are candidates").
func discoverEntries(g *graph.Graph, root string, cfg config.BuildConfig) (map[string]intern.Path, error) {
	entries := map[string]intern.Path{}

	switch {
	case len(cfg.Entries) > 0:
		for name, rel := range cfg.Entries {
			entries[name] = g.AddEntry(absPath(root, rel))
		}
	case cfg.Entry != "":
		name := strings.TrimSuffix(filepath.Base(cfg.Entry), filepath.Ext(cfg.Entry))
		entries[name] = g.AddEntry(absPath(root, cfg.Entry))
	default:
		items, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", root, err)
		}
		for _, item := range items {
			if item.IsDir() {
				continue
			}
			ext := filepath.Ext(item.Name())
			if ext != ".js" && ext != ".ts" && ext != ".jsx" && ext != ".tsx" && ext != ".mjs" {
				continue
			}
			name := strings.TrimSuffix(item.Name(), ext)
			entries[name] = g.AddEntry(filepath.Join(root, item.Name()))
		}
	}

	if len(entries) == 0 {
		return nil, &builderrors.ConfigError{Detail: "no entry points found under " + root}
	}
	return entries, nil
}

// envExpandingReadFile wraps os.ReadFile with config.ExpandEnv so every
// module's source sees process.env.<KEY>/import.meta.env.<KEY> already
// substituted (spec.md §6) before it ever reaches the parser. With no env
// map it's plain os.ReadFile — no string conversion on every file read.
func envExpandingReadFile(env map[string]string) func(string) ([]byte, error) {
	if len(env) == 0 {
		return os.ReadFile
	}
	return func(path string) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []byte(config.ExpandEnv(string(data), env)), nil
	}
}

func absPath(root, rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(root, rel)
}

// Context is a long-running watch/dev session: it owns the graph, a
// file watcher, and an HMR server, and rebuilds on every debounced batch
// of changes. It implements internal/watcher.Rebuilder so the watcher can
// drive it without a dependency cycle.
type Context struct {
	opts Options
	log  *logger.Log

	mu      sync.RWMutex
	g       *graph.Graph
	entries map[string]intern.Path

	bundler *bundler.Bundler
	hmr     *hmr.Server
	watcher *watcher.Watcher
}

// NewContext builds the initial graph for watch/dev mode and wires a
// watcher and HMR server around it. Callers drive it with Watch.
func NewContext(opts Options) (*Context, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	log := logger.NewLog(opts.LogLevel)
	c, err := cache.New(log, "", 0) // dev loop keeps everything in memory
	if err != nil {
		return nil, err
	}
	res := resolver.New(resolver.Config{Root: root, Alias: opts.Alias, External: opts.External})
	pctx := plugin.Context{Root: root, Config: map[string]string{"mode": opts.Mode}}
	tr := transform.New(opts.Plugins, pctx)
	g := graph.New(intern.NewTable(), res, tr, c, log, envExpandingReadFile(opts.Env))

	entries, err := discoverEntries(g, root, opts.BuildConfig)
	if err != nil {
		return nil, err
	}
	roots := make([]intern.Path, 0, len(entries))
	for _, id := range entries {
		roots = append(roots, id)
	}
	if err := g.ProcessAll(context.Background(), roots); err != nil {
		return nil, err
	}

	b := bundler.New(g, fsx.NewReal(), bundler.Options{OutDir: opts.OutDir, SourceMaps: bundler.SourceMapInline})
	h := hmr.New(log, opts.Plugins, pctx)

	w, err := watcher.New(root, 100*time.Millisecond, log)
	if err != nil {
		return nil, err
	}
	if err := w.AddRecursive(); err != nil {
		return nil, err
	}

	return &Context{opts: opts, log: log, g: g, entries: entries, bundler: b, hmr: h, watcher: w}, nil
}

// HmrHandler exposes the WebSocket endpoint so cmd/soku's dev server can
// mount it on build_port+1 (spec.md §6).
func (c *Context) HmrHandler() http.Handler { return c.hmr }

// Watch runs the debounced rebuild loop until ctx is cancelled (spec.md
// §4.7): every batch triggers watcher.RebuildPass, which invalidates,
// re-processes, and calls Rebuild (below) — errors become BuildError HMR
// broadcasts rather than terminating the loop.
func (c *Context) Watch(ctx context.Context) error {
	return c.watcher.Run(ctx, func(paths []string) {
		watcher.RebuildPass(ctx, c.g, c, c.hmr, paths)
	})
}

// Rebuild implements internal/watcher.Rebuilder: it re-bundles every
// entry whose closure the affected set touches and broadcasts per-module
// HMR updates for the changed JS/CSS modules themselves.
func (c *Context) Rebuild(ctx context.Context, affected []intern.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.g.ProcessAll(ctx, affected); err != nil {
		return &builderrors.BuildError{Message: "rebuild", Cause: err}
	}

	for _, id := range affected {
		node, ok := c.g.Get(id)
		if !ok {
			continue
		}
		code, _, ok := c.g.Code(id)
		if !ok {
			continue
		}
		path := c.g.Intern.String(id)
		deps := make([]string, 0, len(node.Dependencies()))
		for _, d := range node.Dependencies() {
			deps = append(deps, c.g.Intern.String(d))
		}
		switch node.ModuleType {
		case graph.TypeCSS:
			c.hmr.BroadcastCSSUpdated(path, code)
		default:
			c.hmr.BroadcastModuleUpdated(path, code, deps)
		}
	}

	affectedSet := make(map[intern.Path]bool, len(affected))
	for _, id := range affected {
		affectedSet[id] = true
	}
	for name, entry := range c.entries {
		closure, _ := c.g.TopoOrder([]intern.Path{entry})
		touched := false
		for _, id := range closure {
			if affectedSet[id] {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		if _, err := c.bundler.BundleEntry(entry, name, nil); err != nil {
			return &builderrors.BuildError{Message: "rebundling " + name, Cause: err}
		}
	}

	c.hmr.BroadcastBuildSuccess()
	return nil
}

// Serve implements the preview static file server of spec.md §6: a thin
// wrapper over net/http's own file server, since the concrete server is
// named an out-of-scope external collaborator (spec.md §1) and the spec
// names no behavior beyond "serve DIR statically".
func Serve(dir string, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	return http.ListenAndServe(addr, http.FileServer(http.Dir(dir)))
}
