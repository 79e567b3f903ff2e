package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bcentdev/soku/internal/config"
	"github.com/bcentdev/soku/internal/logger"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildProducesOutputForSingleEntry(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), `import { greet } from './greet';
console.log(greet());
`)
	writeFile(t, filepath.Join(root, "greet.js"), `export const greet = () => "hi";
`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.Entry = "main.js"
	cfg.DisableCache = true

	result, err := Build(context.Background(), Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.OutputFiles)
	require.Equal(t, 2, result.Stats.ModuleCount)
}

func TestBuildDiscoversTopLevelEntriesWhenNoneConfigured(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.js"), `export default 1;
`)
	writeFile(t, filepath.Join(root, "worker.js"), `export default 2;
`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.DisableCache = true

	result, err := Build(context.Background(), Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.True(t, result.Success)

	names := map[string]bool{}
	for _, o := range result.OutputFiles {
		names[filepath.Base(o.Path)] = true
	}
	require.True(t, names["app.js"])
	require.True(t, names["worker.js"])
}

func TestBuildReportsParseErrorsAndFailsGracefully(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.json"), `{not valid json`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.Entry = "main.json"
	cfg.DisableCache = true

	result, err := Build(context.Background(), Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
}

func TestBuildTreeShakingStatsReportUsedAndRemoved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), `import { used } from './lib';
console.log(used());
`)
	writeFile(t, filepath.Join(root, "lib.js"), `export const used = () => 1;
export const unused = () => 2;
`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.Entry = "main.js"
	cfg.DisableCache = true
	cfg.EnableTreeShaking = true

	result, err := Build(context.Background(), Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.True(t, result.Stats.HadTreeShaking)
	require.Greater(t, result.Stats.TreeShaking.TotalExports, result.Stats.TreeShaking.UsedExports)
}

// TestBuildTreeShakingRemovesUnusedNamedExport is Scenario S1 (spec.md
// §1): main.js only ever touches u.js's "x" export, so "y" must be both
// reported removed and absent from the emitted bundle.
func TestBuildTreeShakingRemovesUnusedNamedExport(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), `import {x} from './u.js';
console.log(x);
`)
	writeFile(t, filepath.Join(root, "u.js"), `export const x = 1; export const y = 2;
`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.Entry = "main.js"
	cfg.DisableCache = true
	cfg.EnableTreeShaking = true

	result, err := Build(context.Background(), Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Stats.TreeShaking.RemovedExports)

	require.NotEmpty(t, result.OutputFiles)
	var bundle []byte
	for _, o := range result.OutputFiles {
		if filepath.Ext(o.Path) == ".js" {
			bundle = o.Content
		}
	}
	require.NotNil(t, bundle)
	require.NotContains(t, string(bundle), "y = 2")
}

func TestNewContextBuildsInitialGraphForWatchMode(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.js"), `export default 1;
`)

	cfg := config.Default(root)
	cfg.OutDir = filepath.Join(root, "dist")
	cfg.Entry = "main.js"

	c, err := NewContext(Options{BuildConfig: cfg, LogLevel: logger.LevelError})
	require.NoError(t, err)
	require.NotNil(t, c.HmrHandler())
}
