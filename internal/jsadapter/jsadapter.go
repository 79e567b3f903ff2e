// Package jsadapter is the concrete stand-in for the external JS/TS/JSX/TSX
// parser spec.md §1 assumes ("an AST-producing library is assumed; the core
// calls parse(source, kind) → AST | diagnostics"). It's implemented on top
// of real tree-sitter grammars — github.com/tree-sitter/go-tree-sitter plus
// the TypeScript/TSX grammar from github.com/tree-sitter/tree-sitter-typescript
// — the same stack bennypowers-cem uses for its own source analysis, rather
// than esbuild's own hand-rolled js_parser (explicitly out of scope per
// spec.md §1).
//
// This adapter implements the "enhanced" processor semantics spec.md §9
// calls for: strip interface/type/annotation syntax for TypeScript, and
// elide import/export statements so the bundler can rewrite identifiers at
// concatenation time (spec.md §4.4).
package jsadapter

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/bcentdev/soku/internal/graph"
)

type Kind uint8

const (
	KindJS Kind = iota
	KindTS
	KindJSX
	KindTSX
)

var (
	langTS  = sitter.NewLanguage(tsTypescript.LanguageTypescript())
	langTSX = sitter.NewLanguage(tsTypescript.LanguageTSX())
)

// languageFor picks the grammar to parse with. The plain TypeScript grammar
// is a strict superset of JavaScript, so it's reused for .js/.mjs/.cjs
// sources too — this repo has no separate plain-JS grammar in its dependency
// set, and the TypeScript grammar parses valid JS without complaint.
func languageFor(kind Kind) *sitter.Language {
	switch kind {
	case KindJSX, KindTSX:
		return langTSX
	default:
		return langTS
	}
}

type Diagnostic struct {
	Message   string
	ByteStart int
	ByteEnd   int
}

type ParseResult struct {
	Code    string // transformed code: types stripped, import/export elided
	Imports []graph.ImportRecord
	Exports []string
	// HasSideEffects reports whether the module runs any code of its own at
	// import time beyond declaring its exports, i.e. has a bare top-level
	// call or expression statement. A pure export-only module (only
	// imports, declarations, and exports) is false, letting the shaker drop
	// it entirely when none of its exports are used.
	HasSideEffects bool
}

// Parse implements the assumed external parse(source, kind) → AST |
// diagnostics contract. Diagnostics at error severity (tree-sitter ERROR/
// MISSING nodes) are returned as the second value; an empty slice means a
// clean parse.
func Parse(source []byte, kind Kind) (ParseResult, []Diagnostic) {
	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(languageFor(kind)); err != nil {
		return ParseResult{}, []Diagnostic{{Message: fmt.Sprintf("jsadapter: %v", err)}}
	}

	tree := parser.Parse(source, nil)
	defer tree.Close()
	root := tree.RootNode()

	w := &walker{source: source, kind: kind}
	w.walkTopLevel(root)

	var diags []Diagnostic
	collectErrors(root, &diags)

	return ParseResult{
		Code:           w.render(),
		Imports:        w.imports,
		Exports:        w.exports,
		HasSideEffects: w.hasSideEffects,
	}, diags
}

func collectErrors(n *sitter.Node, out *[]Diagnostic) {
	if n == nil {
		return
	}
	if n.IsError() || n.IsMissing() {
		*out = append(*out, Diagnostic{
			Message:   fmt.Sprintf("syntax error near %q", n.Kind()),
			ByteStart: int(n.StartByte()),
			ByteEnd:   int(n.EndByte()),
		})
	}
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		collectErrors(n.Child(i), out)
	}
}

type span struct{ start, end int }

type walker struct {
	source         []byte
	kind           Kind
	removed        []span
	imports        []graph.ImportRecord
	exports        []string
	hasSideEffects bool
}

// walkTopLevel walks every statement in the program, recording import/
// export records and marking import/export statements — plus, in TypeScript
// mode, interface/type-alias declarations and type annotations anywhere in
// the tree — for removal from the rendered output. A bare top-level
// expression statement (a call, an assignment, anything that isn't a pure
// declaration, import, or export) marks the module has_side_effects.
func (w *walker) walkTopLevel(root *sitter.Node) {
	count := root.ChildCount()
	for i := uint(0); i < count; i++ {
		stmt := root.Child(i)
		if stmt == nil {
			continue
		}
		switch stmt.Kind() {
		case "import_statement":
			w.handleImport(stmt)
		case "export_statement":
			w.handleExport(stmt)
		case "expression_statement":
			w.hasSideEffects = true
			w.scanForDynamicImportsAndTypes(stmt)
		default:
			w.scanForDynamicImportsAndTypes(stmt)
		}
	}
}

func (w *walker) text(n *sitter.Node) string {
	return n.Utf8Text(w.source)
}

func (w *walker) remove(n *sitter.Node) {
	w.removeRange(n.StartByte(), n.EndByte())
}

func (w *walker) removeRange(start, end uint) {
	w.removed = append(w.removed, span{int(start), int(end)})
}

func (w *walker) handleImport(stmt *sitter.Node) {
	w.remove(stmt)
	src := findStringLiteral(stmt)
	specifier := ""
	if src != nil {
		specifier = unquote(w.text(src))
	}
	w.imports = append(w.imports, graph.ImportRecord{
		Specifier:     specifier,
		Kind:          graph.ImportStatic,
		ByteStart:     int(stmt.StartByte()),
		ByteEnd:       int(stmt.EndByte()),
		HasRange:      true,
		ImportedNames: w.importedNamesOf(stmt),
	})
	w.scanForDynamicImportsAndTypes(stmt)
}

// importedNamesOf extracts the bound export name(s) an import_statement
// requests from its target: "default" for a default import, each
// pre-"as" name for "import { a, b as c } from ...", "*" for a namespace
// import, and none for a bare "import './x'" (side effects only).
func (w *walker) importedNamesOf(stmt *sitter.Node) []string {
	var names []string
	count := stmt.ChildCount()
	for i := uint(0); i < count; i++ {
		if child := stmt.Child(i); child != nil && child.Kind() == "import_clause" {
			names = append(names, w.importClauseNames(child)...)
		}
	}
	return names
}

func (w *walker) importClauseNames(clause *sitter.Node) []string {
	var names []string
	count := clause.ChildCount()
	for i := uint(0); i < count; i++ {
		child := clause.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "identifier":
			names = append(names, "default")
		case "namespace_import":
			names = append(names, "*")
		case "named_imports":
			specs := child.ChildCount()
			for j := uint(0); j < specs; j++ {
				spec := child.Child(j)
				if spec == nil || spec.Kind() != "import_specifier" {
					continue
				}
				name := spec.ChildByFieldName("name")
				if name == nil {
					name = spec.Child(0)
				}
				if name != nil {
					names = append(names, w.text(name))
				}
			}
		}
	}
	return names
}

// handleExport elides only the "export"/"export default" keyword syntax,
// never the declaration it decorates: the single-IIFE concatenation model
// (spec.md §4.4) has no scope-hoisting/renaming pass, so a consumer's bare
// reference to an exported name only binds correctly if the producer's
// `const`/`function`/`class` declaration survives into the concatenated
// output. Only forms with nothing left to keep (a bare re-export, or
// "export default <expr>;") remove the whole statement.
func (w *walker) handleExport(stmt *sitter.Node) {
	text := w.text(stmt)

	switch {
	case strings.HasPrefix(text, "export default"):
		w.exports = append(w.exports, "default")
		if decl := declarationOf(stmt); decl != nil {
			w.removeRange(stmt.StartByte(), decl.StartByte())
		} else {
			w.remove(stmt)
		}
	case strings.Contains(text, " from "):
		w.remove(stmt)
		// Re-export: "export { a, b } from './x'" or "export * from './x'".
		names := w.namedExportsOf(stmt)
		importedNames := names
		if len(names) == 0 {
			// "export * from './x'": every export of the target is
			// re-exported, so usage can't be narrowed to specific names.
			importedNames = []string{"*"}
		}
		if src := findStringLiteral(stmt); src != nil {
			specifier := unquote(w.text(src))
			w.imports = append(w.imports, graph.ImportRecord{
				Specifier:     specifier,
				Kind:          graph.ImportStatic,
				ByteStart:     int(stmt.StartByte()),
				ByteEnd:       int(stmt.EndByte()),
				HasRange:      true,
				ImportedNames: importedNames,
			})
		}
		w.exports = append(w.exports, names...)
	default:
		w.exports = append(w.exports, w.namedExportsOf(stmt)...)
		if decl := declarationOf(stmt); decl != nil {
			w.exports = append(w.exports, w.declaredIdentifiers(decl)...)
			w.removeRange(stmt.StartByte(), decl.StartByte())
		} else {
			// "export { a, b };": the named identifiers are declared
			// elsewhere in the module; only the export wrapper goes.
			w.remove(stmt)
		}
	}

	w.scanForDynamicImportsAndTypes(stmt)
}

// scanForDynamicImportsAndTypes recurses through a subtree looking for
// dynamic import(...) calls (seeded wholesale per spec.md §4.5) and, in
// TypeScript mode, type-only syntax to strip.
func (w *walker) scanForDynamicImportsAndTypes(n *sitter.Node) {
	if n == nil {
		return
	}

	switch n.Kind() {
	case "call_expression":
		if fn := n.Child(0); fn != nil && fn.Kind() == "import" {
			if args := n.ChildByFieldName("arguments"); args != nil {
				if str := findStringLiteral(args); str != nil {
					w.imports = append(w.imports, graph.ImportRecord{
						Specifier: unquote(w.text(str)),
						Kind:      graph.ImportDynamic,
						ByteStart: int(n.StartByte()),
						ByteEnd:   int(n.EndByte()),
						HasRange:  true,
					})
				}
			}
		}
	case "interface_declaration", "type_alias_declaration":
		if w.kind == KindTS || w.kind == KindTSX {
			w.remove(n)
			return // nothing inside an elided declaration needs further scanning
		}
	case "type_annotation":
		if w.kind == KindTS || w.kind == KindTSX {
			w.remove(n)
			return
		}
	}

	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		w.scanForDynamicImportsAndTypes(n.Child(i))
	}
}

// render rebuilds source text skipping every removed span, which is how
// import/export elision and TS type-stripping are applied without a full
// code generator (spec.md §4.4: "emit code with import/export statements
// elided").
func (w *walker) render() string {
	sort.Slice(w.removed, func(i, j int) bool { return w.removed[i].start < w.removed[j].start })

	var b strings.Builder
	cursor := 0
	for _, s := range w.removed {
		if s.start < cursor {
			continue // overlapping removal (e.g. a type annotation inside an elided declaration)
		}
		b.Write(w.source[cursor:s.start])
		cursor = s.end
	}
	b.Write(w.source[cursor:])
	return b.String()
}

func findStringLiteral(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.Kind() == "string" {
		return n
	}
	count := n.ChildCount()
	for i := uint(0); i < count; i++ {
		if found := findStringLiteral(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'' || first == '`') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// namedExportsOf collects identifiers from an "export { a, b as c }" clause.
func (w *walker) namedExportsOf(stmt *sitter.Node) []string {
	var names []string
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Kind() == "export_clause" {
			count := n.ChildCount()
			for i := uint(0); i < count; i++ {
				spec := n.Child(i)
				if spec != nil && spec.Kind() == "export_specifier" {
					name := spec.Child(0)
					if name != nil {
						names = append(names, w.text(name))
					}
				}
			}
		}
		count := n.ChildCount()
		for i := uint(0); i < count; i++ {
			walk(n.Child(i))
		}
	}
	walk(stmt)
	return names
}

// declarationOf returns the declaration node following "export" (function,
// class, or lexical declaration), if any.
func declarationOf(stmt *sitter.Node) *sitter.Node {
	count := stmt.ChildCount()
	for i := uint(0); i < count; i++ {
		child := stmt.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "function_declaration", "class_declaration", "lexical_declaration", "variable_declaration":
			return child
		}
	}
	return nil
}

// declaredIdentifiers extracts the bound identifier(s) from a declaration:
// the function/class name, or every variable_declarator's name in a
// lexical_declaration ("const x = 1, y = 2").
func (w *walker) declaredIdentifiers(decl *sitter.Node) []string {
	var names []string
	switch decl.Kind() {
	case "function_declaration", "class_declaration":
		if name := decl.ChildByFieldName("name"); name != nil {
			names = append(names, w.text(name))
		}
	case "lexical_declaration", "variable_declaration":
		count := decl.ChildCount()
		for i := uint(0); i < count; i++ {
			child := decl.Child(i)
			if child != nil && child.Kind() == "variable_declarator" {
				if name := child.ChildByFieldName("name"); name != nil {
					names = append(names, w.text(name))
				}
			}
		}
	}
	return names
}

// PruneUnusedExports runs a second parse over code Parse already elided
// import/export syntax from, and removes any top-level declaration whose
// bound name is in exports but absent from used. This is what turns the
// shaker's per-(target, imported_name) usage data (spec.md §4.5 step 2)
// into an actual size reduction: a module kept in the bundle because some
// of its exports are live still has its dead exports stripped rather than
// carrying them along wholesale. "default" is never pruned — Parse never
// reports a name for it, so there's nothing in `used` to match against.
func PruneUnusedExports(code string, kind Kind, exports []string, used map[string]bool) string {
	dead := make(map[string]bool)
	for _, e := range exports {
		if e != "default" && !used[e] {
			dead[e] = true
		}
	}
	if len(dead) == 0 {
		return code
	}

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(languageFor(kind)); err != nil {
		return code
	}
	source := []byte(code)
	tree := parser.Parse(source, nil)
	defer tree.Close()
	root := tree.RootNode()

	w := &walker{source: source, kind: kind}
	count := root.ChildCount()
	for i := uint(0); i < count; i++ {
		stmt := root.Child(i)
		if stmt == nil {
			continue
		}
		names := w.declaredIdentifiers(stmt)
		if len(names) == 0 {
			continue
		}
		allDead := true
		for _, n := range names {
			if !dead[n] {
				allDead = false
				break
			}
		}
		if allDead {
			w.remove(stmt)
		}
	}
	return w.render()
}

// Minify is the thin stand-in for the "concrete minifier is assumed"
// clause spec.md §1 leaves open. It's a deliberately small pass over
// already-transformed output: strip line and block comments outside string
// literals, trim leading and trailing whitespace from each line, and drop
// blank lines. It is not a general minifier — it does not rename
// identifiers, fold constants, or remove dead branches.
func Minify(code string) string {
	var out strings.Builder
	runes := []rune(code)
	n := len(runes)

	for i := 0; i < n; i++ {
		c := runes[i]

		switch {
		case c == '"' || c == '\'' || c == '`':
			quote := c
			out.WriteRune(c)
			i++
			for i < n {
				out.WriteRune(runes[i])
				if runes[i] == '\\' && i+1 < n {
					i++
					out.WriteRune(runes[i])
				} else if runes[i] == quote {
					break
				}
				i++
			}
		case c == '/' && i+1 < n && runes[i+1] == '/':
			for i < n && runes[i] != '\n' {
				i++
			}
			i--
		case c == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
		default:
			out.WriteRune(c)
		}
	}

	return collapseBlankLines(out.String())
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}
