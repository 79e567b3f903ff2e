// Package logger implements soku's diagnostic log, styled after clang's
// error format: each message carries the offending line of source text plus
// a line:column computed from a byte offset.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

type Level int8

const (
	LevelSilent Level = iota
	LevelError
	LevelWarning
	LevelInfo
	LevelDebug
)

type Kind uint8

const (
	Error Kind = iota
	Warning
	Note
)

func (k Kind) String() string {
	switch k {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "note"
	}
}

// Location identifies a byte span within a source file for rendering a
// line:column excerpt in diagnostics.
type Location struct {
	File     string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int
	LineText string
}

type Msg struct {
	Kind     Kind
	Text     string
	Location *Location
	Notes    []string
}

func (m Msg) String() string {
	var b strings.Builder
	if m.Location != nil {
		fmt.Fprintf(&b, "%s:%d:%d: ", m.Location.File, m.Location.Line, m.Location.Column)
	}
	fmt.Fprintf(&b, "%s: %s", m.Kind, m.Text)
	if m.Location != nil && m.Location.LineText != "" {
		fmt.Fprintf(&b, "\n    %s", m.Location.LineText)
	}
	for _, n := range m.Notes {
		fmt.Fprintf(&b, "\n    note: %s", n)
	}
	return b.String()
}

// Log collects diagnostics produced during one build. It is safe for
// concurrent use by the parallel module-processing workers in internal/graph.
type Log struct {
	mu    sync.Mutex
	level Level
	msgs  []Msg
}

func NewLog(level Level) *Log {
	return &Log{level: level}
}

func (l *Log) AddError(loc *Location, text string) {
	l.add(Msg{Kind: Error, Text: text, Location: loc})
}

func (l *Log) AddWarning(loc *Location, text string) {
	l.add(Msg{Kind: Warning, Text: text, Location: loc})
}

func (l *Log) add(msg Msg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

func (l *Log) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m.Kind == Error {
			return true
		}
	}
	return false
}

// Done returns every collected message sorted by file then line, matching
// the order a developer scans a terminal: earliest-in-file first, with
// messages that carry no location after all located ones.
func (l *Log) Done() []Msg {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Msg, len(l.msgs))
	copy(out, l.msgs)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].Location, out[j].Location
		if li == nil || lj == nil {
			return li != nil
		}
		if li.File != lj.File {
			return li.File < lj.File
		}
		return li.Line < lj.Line
	})
	return out
}

// PrintSummary writes a short human-readable summary to w: one line per
// message plus an "N errors, M warnings" trailer. This is the CLI shell's
// thin consumer of the log; soku's core never writes to stdout/stderr itself
// outside of this helper.
func PrintSummary(w *os.File, msgs []Msg) {
	errs, warns := 0, 0
	for _, m := range msgs {
		fmt.Fprintln(w, m.String())
		switch m.Kind {
		case Error:
			errs++
		case Warning:
			warns++
		}
	}
	if errs > 0 || warns > 0 {
		fmt.Fprintf(w, "\n%d error(s), %d warning(s)\n", errs, warns)
	}
}

// LineColumn converts a 0-based byte offset into a 1-based line and 0-based
// column, plus the text of the containing line, for rendering in a Location.
func LineColumn(source string, offset int) (line int, column int, lineText string) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(source) {
		offset = len(source)
	}
	line = 1
	lineStart := 0
	for i := 0; i < offset; i++ {
		if source[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	lineEnd := len(source)
	if idx := strings.IndexByte(source[lineStart:], '\n'); idx >= 0 {
		lineEnd = lineStart + idx
	}
	return line, offset - lineStart, source[lineStart:lineEnd]
}
