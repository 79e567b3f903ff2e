package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/logger"
)

func TestLoadFileAppliesOnlyPresentKeys(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ultra.config.json"), []byte(`{
		"minify": true,
		"maxChunkSize": 50000
	}`), 0o644))

	cfg := Default(root)
	cfg, err := LoadFile(cfg, root)
	require.NoError(t, err)

	require.True(t, cfg.EnableMinification)
	require.Equal(t, 50000, cfg.MaxChunkSize)
	require.Equal(t, "dist", cfg.OutDir) // untouched default
	require.True(t, cfg.EnableTreeShaking)
}

func TestLoadFileMissingFileIsNotAnError(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg2, err := LoadFile(cfg, root)
	require.NoError(t, err)
	require.Equal(t, cfg, cfg2)
}

func TestLoadFileRejectsMalformedJSON(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ultra.config.json"), []byte(`{not json`), 0o644))
	_, err := LoadFile(Default(root), root)
	require.Error(t, err)
}

func TestLoadEnvPrecedenceHighestLast(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("API_URL=from-base\nSHARED=base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.local"), []byte("SHARED=local\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.production"), []byte("SHARED=prod\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env.production.local"), []byte("SHARED=prod-local\n"), 0o644))

	env := LoadEnv(root, "production", logger.NewLog(logger.LevelError))

	require.Equal(t, "from-base", env["API_URL"])
	require.Equal(t, "prod-local", env["SHARED"])
}

func TestLoadEnvInjectsBuiltins(t *testing.T) {
	root := t.TempDir()
	env := LoadEnv(root, "production", logger.NewLog(logger.LevelError))

	require.Equal(t, "production", env["NODE_ENV"])
	require.Equal(t, "production", env["MODE"])
	require.Equal(t, "false", env["DEV"])
	require.Equal(t, "true", env["PROD"])
}

func TestLoadEnvWarnsOnInvalidKey(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("9BAD=oops\nGOOD_KEY=fine\n"), 0o644))

	log := logger.NewLog(logger.LevelWarning)
	env := LoadEnv(root, "development", log)

	require.Equal(t, "fine", env["GOOD_KEY"])
	require.NotContains(t, env, "9BAD")
}

func TestExpandEnvRewritesProcessAndImportMetaEnv(t *testing.T) {
	env := map[string]string{"API_URL": "https://api.example.com", "PORT": "3000", "DEV": "true"}
	source := `const url = process.env.API_URL;
const port = import.meta.env.PORT;
const dev = process.env.DEV;
`
	out := ExpandEnv(source, env)

	require.Contains(t, out, `const url = "https://api.example.com";`)
	require.Contains(t, out, `const port = 3000;`)
	require.Contains(t, out, `const dev = true;`)
}

func TestExpandEnvLeavesUnknownKeysUntouched(t *testing.T) {
	out := ExpandEnv("process.env.MISSING_KEY", map[string]string{})
	require.Equal(t, "process.env.MISSING_KEY", out)
}

func TestExpandEnvIsIdempotent(t *testing.T) {
	env := map[string]string{"MODE": "production"}
	once := ExpandEnv("process.env.MODE", env)
	twice := ExpandEnv(once, env)
	require.Equal(t, once, twice)
}
