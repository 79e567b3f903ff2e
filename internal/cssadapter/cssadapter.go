// Package cssadapter is the CSS branch of C4 (spec.md §4.4): it tokenizes a
// stylesheet, extracts @import at-rules as graph.ImportRecord entries with
// graph.ImportCSS kind, and strips those at-rules from the rendered output
// so the bundler can inline the imported stylesheet in its place.
//
// Tokenizing is grounded on github.com/gorilla/css/scanner, a transitive
// dependency already present via bennypowers-cem and theRebelliousNerd-codenerd
// (both pull it in through a CSS-aware toolchain); this package promotes it
// to a direct dependency rather than hand-rolling a CSS lexer.
package cssadapter

import (
	"strings"

	"github.com/gorilla/css/scanner"

	"github.com/bcentdev/soku/internal/graph"
)

type Result struct {
	Code    string
	Imports []graph.ImportRecord
}

// Process tokenizes css and removes every top-level @import at-rule,
// recording its target as a graph.ImportRecord. url(...) references inside
// declarations (background-image etc.) are left untouched — those are
// asset references, not module-graph edges, per spec.md §4.1's module type
// list (css imports CSS via @import only).
//
// Output is rebuilt by re-emitting every token's literal value except the
// tokens that make up a skipped @import rule, rather than by slicing the
// original source with byte offsets — the scanner's token stream already
// covers 100% of the input (including whitespace, as TokenS), so
// reconstruction from tokens is exact.
func Process(css string, path string) (Result, error) {
	s := scanner.New(css)

	var out strings.Builder
	var imports []graph.ImportRecord

	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}

		if tok.Type == scanner.TokenAtKeyword && tok.Value == "@import" {
			if spec, ok := consumeImportRule(s); ok {
				imports = append(imports, graph.ImportRecord{
					Specifier: spec,
					Kind:      graph.ImportCSS,
				})
			}
			continue
		}

		out.WriteString(tok.Value)
	}

	return Result{Code: out.String(), Imports: imports}, nil
}

// consumeImportRule consumes tokens following an "@import" keyword up to and
// including the terminating ";" (or EOF, for a malformed trailing rule),
// extracting the quoted or url(...) specifier.
func consumeImportRule(s *scanner.Scanner) (specifier string, ok bool) {
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			return specifier, specifier != ""
		}
		switch tok.Type {
		case scanner.TokenString:
			specifier = unquote(tok.Value)
		case scanner.TokenURI:
			specifier = unwrapURL(tok.Value)
		case scanner.TokenChar:
			if tok.Value == ";" {
				return specifier, specifier != ""
			}
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func unwrapURL(s string) string {
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "url("), ")")
	return unquote(strings.TrimSpace(inner))
}

// Bundle concatenates a sequence of already-resolved stylesheet paths in
// dependency order, each separated by a newline — the CSS analogue of
// C6's JS concatenation, used when the bundler emits a single combined
// stylesheet per spec.md §4.6.
func Bundle(paths []string, readFile func(string) ([]byte, error)) (string, error) {
	var out strings.Builder
	for i, path := range paths {
		content, err := readFile(path)
		if err != nil {
			return "", err
		}
		processed, err := Process(string(content), path)
		if err != nil {
			return "", err
		}
		if i > 0 {
			out.WriteString("\n")
		}
		out.WriteString(processed.Code)
	}
	return out.String(), nil
}
