package cssadapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/graph"
)

func TestProcessExtractsQuotedImport(t *testing.T) {
	css := `@import "./base.css";
.button { color: red; }
`
	result, err := Process(css, "styles.css")
	require.NoError(t, err)
	require.Len(t, result.Imports, 1)
	require.Equal(t, "./base.css", result.Imports[0].Specifier)
	require.Equal(t, graph.ImportCSS, result.Imports[0].Kind)
	require.NotContains(t, result.Code, "@import")
	require.Contains(t, result.Code, "color: red")
}

func TestProcessExtractsURLImport(t *testing.T) {
	css := `@import url(./theme.css);
body { margin: 0; }
`
	result, err := Process(css, "styles.css")
	require.NoError(t, err)
	require.Len(t, result.Imports, 1)
	require.Equal(t, "./theme.css", result.Imports[0].Specifier)
}

func TestProcessLeavesBackgroundURLUntouched(t *testing.T) {
	css := `.hero { background-image: url("./bg.png"); }`
	result, err := Process(css, "styles.css")
	require.NoError(t, err)
	require.Empty(t, result.Imports)
	require.Contains(t, result.Code, "bg.png")
}

func TestProcessHandlesMultipleImports(t *testing.T) {
	css := `@import "./a.css";
@import "./b.css";
.c { color: blue; }
`
	result, err := Process(css, "styles.css")
	require.NoError(t, err)
	require.Len(t, result.Imports, 2)
	require.Equal(t, "./a.css", result.Imports[0].Specifier)
	require.Equal(t, "./b.css", result.Imports[1].Specifier)
}

func TestBundleConcatenatesInOrder(t *testing.T) {
	files := map[string]string{
		"/a.css": ".a { color: red; }",
		"/b.css": ".b { color: blue; }",
	}
	readFile := func(path string) ([]byte, error) {
		return []byte(files[path]), nil
	}

	out, err := Bundle([]string{"/a.css", "/b.css"}, readFile)
	require.NoError(t, err)
	require.Contains(t, out, ".a")
	require.Contains(t, out, ".b")
	require.Less(t, indexOf(out, ".a"), indexOf(out, ".b"))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
