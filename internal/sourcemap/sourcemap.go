// Package sourcemap builds source map v3 documents (spec.md §4.6 step 4):
// sources, sourcesContent, names, and VLQ-encoded mappings. Adapted from
// esbuild's internal/sourcemap/sourcemap.go VLQ codec, trimmed to the
// line-granularity mapping this bundler emits (one segment per output
// line pointing at the start of the corresponding source line — no
// column-level statement mapping, since C6 concatenates whole transformed
// modules rather than re-emitting a statement-level AST).
package sourcemap

import (
	"encoding/base64"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Map is the v3 source map document (https://sourcemaps.info/spec.html),
// restricted to the fields spec.md §4.6 names.
type Map struct {
	Version        int      `json:"version"`
	File           string   `json:"file,omitempty"`
	SourceRoot     string   `json:"sourceRoot,omitempty"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent,omitempty"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// Segment is one output line's mapping back to a source line, before VLQ
// encoding: "this output line starts at sourceLine of sourceIndex".
type Segment struct {
	SourceIndex int
	SourceLine  int // 0-based
}

// Builder accumulates one Segment per output line as the bundler
// concatenates modules, then renders the whole mappings string at once.
type Builder struct {
	file           string
	sourceRoot     string
	sources        []string
	sourcesContent []string
	names          []string
	segments       []Segment
}

func NewBuilder(file, sourceRoot string) *Builder {
	return &Builder{file: file, sourceRoot: sourceRoot}
}

// AddSource registers a source file (optionally embedding its content) and
// returns its index for use in AddLine.
func (b *Builder) AddSource(path string, content string, embedContent bool) int {
	index := len(b.sources)
	b.sources = append(b.sources, path)
	if embedContent {
		b.sourcesContent = append(b.sourcesContent, content)
	} else {
		b.sourcesContent = append(b.sourcesContent, "")
	}
	return index
}

// AddLine records that the next output line maps back to sourceLine (0-based)
// of the source registered at sourceIndex.
func (b *Builder) AddLine(sourceIndex, sourceLine int) {
	b.segments = append(b.segments, Segment{SourceIndex: sourceIndex, SourceLine: sourceLine})
}

// Build renders the accumulated segments into a v3 Map with VLQ-encoded
// mappings. Each output line gets exactly one segment
// (generatedColumn=0, sourceIndex, sourceLine, nameIndex=0 omitted), per
// line-granularity mapping.
func (b *Builder) Build() Map {
	var mappings strings.Builder

	prevGeneratedColumn := 0
	prevSourceIndex := 0
	prevSourceLine := 0
	prevSourceColumn := 0

	for i, seg := range b.segments {
		if i > 0 {
			mappings.WriteByte(';')
		}
		// generatedColumn is always 0 at the start of a line; the delta
		// from the previous segment's generatedColumn resets to 0 per
		// line in this encoding since every segment begins a new line.
		writeVLQ(&mappings, 0-prevGeneratedColumn)
		writeVLQ(&mappings, seg.SourceIndex-prevSourceIndex)
		writeVLQ(&mappings, seg.SourceLine-prevSourceLine)
		writeVLQ(&mappings, 0-prevSourceColumn)

		prevGeneratedColumn = 0
		prevSourceIndex = seg.SourceIndex
		prevSourceLine = seg.SourceLine
		prevSourceColumn = 0
	}

	hasContent := false
	for _, c := range b.sourcesContent {
		if c != "" {
			hasContent = true
			break
		}
	}

	m := Map{
		Version:    3,
		File:       b.file,
		SourceRoot: b.sourceRoot,
		Sources:    b.sources,
		Names:      b.names,
		Mappings:   mappings.String(),
	}
	if hasContent {
		m.SourcesContent = b.sourcesContent
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	return m
}

// writeVLQ encodes value as a base64 VLQ segment per the source map v3
// spec: sign in the low bit, then 5-bit groups, least-significant group
// first, each with a continuation bit (0x20) set when more groups follow.
func writeVLQ(b *strings.Builder, value int) {
	vlq := value << 1
	if value < 0 {
		vlq = (-value << 1) | 1
	}
	for {
		digit := vlq & 0x1f
		vlq >>= 5
		if vlq > 0 {
			digit |= 0x20
		}
		b.WriteByte(base64Chars[digit])
		if vlq == 0 {
			break
		}
	}
}

// DataURL renders an inline data: URL per spec.md §6/Scenario S6:
// "data:application/json;charset=utf-8;base64,<…>".
func DataURL(jsonBytes []byte) string {
	return "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(jsonBytes)
}
