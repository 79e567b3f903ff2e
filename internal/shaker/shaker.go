// Package shaker implements C5, the tree shaker of spec.md §4.5: a
// fixed-point reachability pass over the processed module graph that
// produces metadata (used/removed exports) without mutating code.
//
// Grounded on original_source/src/infrastructure/processors/tree_shaker.rs's
// shake_internal fixed-point loop, with its seeding bug fixed per spec.md
// §9 (Open Question 1): the original seeds only `(entry, "default")`
// regardless of what the entry actually exports, so a named-export-only
// entry module shows every export as "removed". This package seeds every
// real export of every entry module instead.
//
// Usage propagates per (target, imported_name) pair (spec.md §4.5 step 2),
// using graph.ResolvedImport's ImportedNames: importing {x} from a module
// marks only that module's "x" export used, not its whole export list. A
// namespace import ("*") or "export * from" re-export can't be narrowed, so
// it marks every export of its target, same as a module flagged
// has_side_effects is retained (and its exports marked used) wholesale.
package shaker

import (
	"github.com/bcentdev/soku/internal/graph"
	"github.com/bcentdev/soku/internal/intern"
)

type TreeShakingStats struct {
	TotalModules         int
	TotalExports         int
	UsedExports          int
	RemovedExports       int
	ReductionPercentage  float64
	UsedExportsByModule  map[intern.Path][]string
}

type Shaker struct {
	g *graph.Graph
}

func New(g *graph.Graph) *Shaker {
	return &Shaker{g: g}
}

// Shake runs the fixed-point algorithm rooted at entries (entries must
// already be fully processed — spec.md §4.5 precondition). It does not
// mutate any module's code; the bundler consults UsedExportsByModule to
// decide what to skip concatenating.
func (s *Shaker) Shake(entries []intern.Path) TreeShakingStats {
	used := make(map[intern.Path]map[string]bool)

	markAll := func(id intern.Path) bool {
		node, ok := s.g.Get(id)
		if !ok {
			return false
		}
		set, exists := used[id]
		if !exists {
			set = make(map[string]bool)
			used[id] = set
		}
		grew := false
		for _, e := range node.Exports {
			if !set[e] {
				set[e] = true
				grew = true
			}
		}
		return grew
	}

	// markNames marks only the named exports of id that names actually
	// requests; id is still registered in used (with a possibly-empty set)
	// so its own imports keep propagating even if none of its exports match.
	markNames := func(id intern.Path, names []string) bool {
		node, ok := s.g.Get(id)
		if !ok {
			return false
		}
		set, exists := used[id]
		if !exists {
			set = make(map[string]bool)
			used[id] = set
		}
		wanted := make(map[string]bool, len(names))
		for _, n := range names {
			wanted[n] = true
		}
		grew := !exists
		for _, e := range node.Exports {
			if wanted[e] && !set[e] {
				set[e] = true
				grew = true
			}
		}
		return grew
	}

	hasStar := func(names []string) bool {
		for _, n := range names {
			if n == "*" {
				return true
			}
		}
		return false
	}

	// 1. Seed every real export of every entry module (bug fix).
	for _, entry := range entries {
		markAll(entry)
	}

	// 2. Modules flagged has_side_effects are retained wholesale.
	for _, node := range s.g.AllModules() {
		if node.HasSideEffects() {
			markAll(node.ID)
		}
	}

	// 3. Dynamic import targets get all their exports seeded; we can't
	// narrow usage at build time (spec.md §4.5 policy). ImportRecord
	// doesn't carry the resolved path (only the specifier), so this seeds
	// every dependency of a module that contains at least one dynamic
	// import — sound, if slightly coarser than seeding only the dynamic
	// target, since a module with no dynamic imports is unaffected.
	for _, node := range s.g.AllModules() {
		hasDynamic := false
		for _, imp := range node.Imports {
			if imp.Kind == graph.ImportDynamic {
				hasDynamic = true
				break
			}
		}
		if hasDynamic {
			for _, dep := range node.Dependencies() {
				markAll(dep)
			}
		}
	}

	// 4. Fixed-point loop: propagate use through each resolved import edge,
	// per imported name (spec.md §4.5 step 2) rather than per whole module —
	// "import { x } from './u'" marks only "x" used on u.js, not every
	// export u.js happens to have. A namespace import or wildcard
	// re-export can't be narrowed, so it falls back to marking every
	// export of its target, same as wholesale side-effect retention.
	changed := true
	for changed {
		changed = false
		for id := range used {
			node, ok := s.g.Get(id)
			if !ok {
				continue
			}
			for _, ri := range node.ResolvedImports() {
				names := ri.Record.ImportedNames
				switch {
				case len(names) == 0:
					// Side-effect-only import: no export usage to propagate.
					continue
				case hasStar(names):
					if markAll(ri.Target) {
						changed = true
					}
				default:
					if markNames(ri.Target, names) {
						changed = true
					}
				}
			}
		}
	}

	return s.stats(used)
}

func (s *Shaker) stats(used map[intern.Path]map[string]bool) TreeShakingStats {
	totalExports := 0
	usedExports := 0
	byModule := make(map[intern.Path][]string)

	for _, node := range s.g.AllModules() {
		totalExports += len(node.Exports)
	}
	for id, set := range used {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		byModule[id] = names
		usedExports += len(names)
	}

	removed := totalExports - usedExports
	if removed < 0 {
		removed = 0
	}

	reduction := 0.0
	if totalExports > 0 {
		reduction = (float64(removed) / float64(totalExports)) * 100.0
	}

	return TreeShakingStats{
		TotalModules:        len(s.g.AllModules()),
		TotalExports:        totalExports,
		UsedExports:         usedExports,
		RemovedExports:      removed,
		ReductionPercentage: reduction,
		UsedExportsByModule: byModule,
	}
}
