package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveRelative(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "u.js"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("./u.js", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "u.js"), res.Path)
	require.False(t, res.External)
}

func TestResolveExtensionProbe(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "u.ts"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("./u", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "u.ts"), res.Path)
}

func TestResolveDirectoryIndex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "comp", "index.js"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("./comp", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "comp", "index.js"), res.Path)
}

func TestResolveUnresolved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")

	r := New(Config{Root: root})
	_, err := r.Resolve("nope", filepath.Join(root, "main.js"))
	require.Error(t, err)
}

func TestResolveExternal(t *testing.T) {
	root := t.TempDir()
	r := New(Config{Root: root, External: []string{"fs-extra"}})

	res, err := r.Resolve("node:fs", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.True(t, res.External)

	res, err = r.Resolve("fs-extra", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.True(t, res.External)
}

func TestResolveAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "src", "utils.js"), "")

	r := New(Config{Root: root, Alias: map[string]string{"@/": "/src/"}})
	res, err := r.Resolve("@/utils", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "src", "utils.js"), res.Path)
}

func TestResolvePackageMain(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "node_modules", "leftpad", "package.json"), `{"main":"./lib/index.js"}`)
	writeFile(t, filepath.Join(root, "node_modules", "leftpad", "lib", "index.js"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("leftpad", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "node_modules", "leftpad", "lib", "index.js"), res.Path)
}

func TestResolvePackageExportsConditional(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "package.json"),
		`{"exports":{"import":"./esm/index.js","default":"./cjs/index.js"}}`)
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "esm", "index.js"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("pkg", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "node_modules", "pkg", "esm", "index.js"), res.Path)
}

func TestResolvePackageExportsSubpathPattern(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), "")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "package.json"),
		`{"exports":{"./*":"./dist/*.js"}}`)
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "dist", "button.js"), "")

	r := New(Config{Root: root})
	res, err := r.Resolve("pkg/button", filepath.Join(root, "main.js"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "node_modules", "pkg", "dist", "button.js"), res.Path)
}
