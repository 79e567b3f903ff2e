// Package resolver implements C2: mapping an import specifier plus an
// optional importer to an absolute module path, per spec.md §4.2. The
// algorithm and package.json caching are grounded on esbuild's
// internal/resolver/resolver.go and package_json.go, generalized to the
// simpler alias/relative/absolute/package chain this spec names (no
// tsconfig "paths", no Yarn PnP — esbuild-specific concerns this spec
// doesn't ask for).
package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bcentdev/soku/internal/builderrors"
)

// Candidate extensions tried by the file-or-directory probe, in order.
var probeExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".json"}

type Result struct {
	Path      string
	External  bool
	Namespace string
}

type Config struct {
	Root     string
	Alias    map[string]string
	External []string
}

// packageJSON is the subset of package.json fields resolution consults.
type packageJSON struct {
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Browser json.RawMessage `json:"browser"`
	Exports json.RawMessage `json:"exports"`
}

type Resolver struct {
	cfg Config

	mu        sync.RWMutex
	pkgCache  map[string]*packageJSON // absolute package.json path -> parsed (write-once per path)
	pkgMissed map[string]bool
}

func New(cfg Config) *Resolver {
	return &Resolver{
		cfg:       cfg,
		pkgCache:  make(map[string]*packageJSON),
		pkgMissed: make(map[string]bool),
	}
}

// Resolve implements the short-circuit order of spec.md §4.2.
func (r *Resolver) Resolve(specifier string, importer string) (Result, error) {
	if strings.HasPrefix(specifier, "node:") || r.isExternal(specifier) {
		return Result{Path: specifier, External: true}, nil
	}

	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") {
		if importer == "" {
			return Result{}, &builderrors.ResolutionError{Specifier: specifier, Importer: importer}
		}
		base := filepath.Join(filepath.Dir(importer), specifier)
		if path, ok := r.probe(base); ok {
			return Result{Path: path}, nil
		}
		return Result{}, &builderrors.ResolutionError{Specifier: specifier, Importer: importer}
	}

	if strings.HasPrefix(specifier, "/") {
		base := filepath.Join(r.cfg.Root, specifier)
		if path, ok := r.probe(base); ok {
			return Result{Path: path}, nil
		}
		return Result{}, &builderrors.ResolutionError{Specifier: specifier, Importer: importer}
	}

	if rewritten, ok := r.rewriteAlias(specifier); ok {
		return r.Resolve(rewritten, importer)
	}

	return r.resolvePackage(specifier, importer)
}

func (r *Resolver) isExternal(specifier string) bool {
	for _, ext := range r.cfg.External {
		if ext == specifier {
			return true
		}
	}
	return false
}

// rewriteAlias rewrites a specifier whose prefix matches a configured alias.
// Per spec.md §8 round-trip law: resolve(alias_expand(s)) == resolve(s).
func (r *Resolver) rewriteAlias(specifier string) (string, bool) {
	var bestPrefix string
	for prefix := range r.cfg.Alias {
		if strings.HasPrefix(specifier, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
		}
	}
	if bestPrefix == "" {
		return "", false
	}
	target := r.cfg.Alias[bestPrefix]
	return target + strings.TrimPrefix(specifier, bestPrefix), true
}

// probe is the file-or-directory probe of spec.md §4.2: exact file; path+ext
// for each extension; then path/index.ext for each extension.
func (r *Resolver) probe(path string) (string, bool) {
	if isRegularFile(path) {
		return path, true
	}
	for _, ext := range probeExtensions {
		if candidate := path + ext; isRegularFile(candidate) {
			return candidate, true
		}
	}
	for _, ext := range probeExtensions {
		candidate := filepath.Join(path, "index"+ext)
		if isRegularFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// resolvePackage walks up from the importer's directory looking for
// <dir>/node_modules/<specifier-head>, per spec.md §4.2 step 5.
func (r *Resolver) resolvePackage(specifier string, importer string) (Result, error) {
	head, subpath := splitPackageSpecifier(specifier)

	startDir := r.cfg.Root
	if importer != "" {
		startDir = filepath.Dir(importer)
	}

	for dir := startDir; ; {
		pkgDir := filepath.Join(dir, "node_modules", head)
		if info, err := os.Stat(pkgDir); err == nil && info.IsDir() {
			if result, ok := r.resolveInPackage(pkgDir, subpath); ok {
				return Result{Path: result}, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return Result{}, &builderrors.ResolutionError{Specifier: specifier, Importer: importer}
}

// splitPackageSpecifier splits "lodash/fp" into ("lodash", "fp") and
// "@scope/pkg/sub" into ("@scope/pkg", "sub").
func splitPackageSpecifier(specifier string) (head, subpath string) {
	parts := strings.SplitN(specifier, "/", 2)
	if strings.HasPrefix(specifier, "@") && len(parts) == 2 {
		scoped := strings.SplitN(parts[1], "/", 2)
		if len(scoped) == 2 {
			return parts[0] + "/" + scoped[0], scoped[1]
		}
		return specifier, ""
	}
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return specifier, ""
}

func (r *Resolver) resolveInPackage(pkgDir, subpath string) (string, bool) {
	pj, _ := r.loadPackageJSON(filepath.Join(pkgDir, "package.json"))

	if pj != nil && len(pj.Exports) > 0 {
		if path, ok := resolveExportsField(pj.Exports, subpath, pkgDir); ok {
			return path, true
		}
	}

	if subpath != "" {
		return r.probe(filepath.Join(pkgDir, subpath))
	}

	if pj != nil {
		for _, candidate := range []string{pj.Module, browserString(pj.Browser), pj.Main} {
			if candidate == "" {
				continue
			}
			if path, ok := r.probe(filepath.Join(pkgDir, candidate)); ok {
				return path, true
			}
		}
	}

	return r.probe(filepath.Join(pkgDir, "index"))
}

func browserString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// loadPackageJSON reads and parses a package.json, caching the result (or
// the absence of one) so repeated lookups from sibling modules in the same
// package don't re-stat and re-parse. Thread-safe: concurrent reads,
// write-once per path, per spec.md §4.2.
func (r *Resolver) loadPackageJSON(path string) (*packageJSON, bool) {
	r.mu.RLock()
	if pj, ok := r.pkgCache[path]; ok {
		r.mu.RUnlock()
		return pj, true
	}
	if r.pkgMissed[path] {
		r.mu.RUnlock()
		return nil, false
	}
	r.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		r.mu.Lock()
		r.pkgMissed[path] = true
		r.mu.Unlock()
		return nil, false
	}

	var pj packageJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		r.mu.Lock()
		r.pkgMissed[path] = true
		r.mu.Unlock()
		return nil, false
	}

	r.mu.Lock()
	// Write-once: if another goroutine raced us, keep whichever landed first.
	if existing, ok := r.pkgCache[path]; ok {
		r.mu.Unlock()
		return existing, true
	}
	r.pkgCache[path] = &pj
	r.mu.Unlock()
	return &pj, true
}

// resolveExportsField resolves the "exports" field of package.json in
// priority order import, browser, node, default, per spec.md §4.2. Subpath
// patterns with a single "*" are supported.
func resolveExportsField(raw json.RawMessage, subpath string, pkgDir string) (string, bool) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}

	requested := "."
	if subpath != "" {
		requested = "./" + subpath
	}

	switch exports := value.(type) {
	case string:
		if requested == "." {
			return joinExport(pkgDir, exports), true
		}
		return "", false

	case map[string]interface{}:
		if hasConditionKeys(exports) && requested == "." {
			if target, ok := pickCondition(exports); ok {
				return joinExport(pkgDir, target), true
			}
			return "", false
		}
		// Subpath exports map, possibly with a single "*" pattern.
		if target, ok := exports[requested]; ok {
			if s, ok := target.(string); ok {
				return joinExport(pkgDir, s), true
			}
			if nested, ok := target.(map[string]interface{}); ok {
				if picked, ok := pickCondition(nested); ok {
					return joinExport(pkgDir, picked), true
				}
			}
		}
		for pattern, target := range exports {
			star := strings.IndexByte(pattern, '*')
			if star < 0 {
				continue
			}
			prefix, suffix := pattern[:star], pattern[star+1:]
			if strings.HasPrefix(requested, prefix) && strings.HasSuffix(requested, suffix) {
				matched := strings.TrimSuffix(strings.TrimPrefix(requested, prefix), suffix)
				if s, ok := target.(string); ok {
					return joinExport(pkgDir, strings.Replace(s, "*", matched, 1)), true
				}
			}
		}
		return "", false

	default:
		return "", false
	}
}

func hasConditionKeys(m map[string]interface{}) bool {
	for k := range m {
		if k == "." || strings.HasPrefix(k, "./") {
			return false
		}
	}
	return true
}

var conditionPriority = []string{"import", "browser", "node", "default"}

func pickCondition(m map[string]interface{}) (string, bool) {
	for _, cond := range conditionPriority {
		if v, ok := m[cond]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func joinExport(pkgDir, rel string) string {
	return filepath.Join(pkgDir, rel)
}
