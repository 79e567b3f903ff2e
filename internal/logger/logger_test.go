package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasErrorsIsFalseUntilAnErrorIsAdded(t *testing.T) {
	l := NewLog(LevelWarning)
	require.False(t, l.HasErrors())

	l.AddWarning(nil, "just a warning")
	require.False(t, l.HasErrors())

	l.AddError(nil, "boom")
	require.True(t, l.HasErrors())
}

func TestDoneSortsByFileThenLineWithLocationlessMessagesLast(t *testing.T) {
	l := NewLog(LevelWarning)
	l.AddError(&Location{File: "b.js", Line: 5}, "second file")
	l.AddError(nil, "no location")
	l.AddError(&Location{File: "a.js", Line: 10}, "later in a.js")
	l.AddError(&Location{File: "a.js", Line: 2}, "earlier in a.js")

	msgs := l.Done()
	require.Len(t, msgs, 4)
	require.Equal(t, "earlier in a.js", msgs[0].Text)
	require.Equal(t, "later in a.js", msgs[1].Text)
	require.Equal(t, "second file", msgs[2].Text)
	require.Equal(t, "no location", msgs[3].Text)
}

func TestMsgStringIncludesLocationAndNotes(t *testing.T) {
	m := Msg{
		Kind:     Error,
		Text:     "unexpected token",
		Location: &Location{File: "main.js", Line: 3, Column: 7, LineText: "const ;"},
		Notes:    []string{"did you forget an identifier?"},
	}
	s := m.String()
	require.Contains(t, s, "main.js:3:7")
	require.Contains(t, s, "error: unexpected token")
	require.Contains(t, s, "const ;")
	require.Contains(t, s, "did you forget an identifier?")
}

func TestLineColumnComputesLineAndColumnFromByteOffset(t *testing.T) {
	source := "const a = 1;\nconst b = 2;\nconst c = 3;"

	line, col, text := LineColumn(source, 0)
	require.Equal(t, 1, line)
	require.Equal(t, 0, col)
	require.Equal(t, "const a = 1;", text)

	secondLineStart := len("const a = 1;\n")
	line, col, text = LineColumn(source, secondLineStart+6)
	require.Equal(t, 2, line)
	require.Equal(t, 6, col)
	require.Equal(t, "const b = 2;", text)
}

func TestLineColumnClampsOutOfRangeOffsets(t *testing.T) {
	source := "abc"
	line, col, _ := LineColumn(source, -5)
	require.Equal(t, 1, line)
	require.Equal(t, 0, col)

	line, col, _ = LineColumn(source, 1000)
	require.Equal(t, 1, line)
	require.Equal(t, len(source), col)
}
