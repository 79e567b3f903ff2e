package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcentdev/soku/internal/config"
	"github.com/bcentdev/soku/internal/logger"
	"github.com/bcentdev/soku/pkg/api"
)

var (
	buildRoot          string
	buildOutDir        string
	buildEntry         string
	buildNoTreeShaking bool
	buildNoMinify      bool
	buildSourceMaps    bool
	buildNoCache       bool
	buildCodeSplitting bool
	buildMaxChunkSize  int
)

var buildCmd = &cobra.Command{
	Use:   "build [entry]",
	Short: "Bundle entry points into the output directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			buildEntry = args[0]
		}

		cfg := config.Default(buildRoot)
		cfg.Mode = "production"
		cfg.EnableMinification = true // build's own baseline; dev/Default() leaves it off
		cfg, err := config.LoadFile(cfg, buildRoot)
		if err != nil {
			return usageErrorf("%v", err)
		}
		if buildEntry != "" {
			cfg.Entry = buildEntry
		}

		flags := cmd.Flags()
		if flags.Changed("outdir") {
			cfg.OutDir = buildOutDir
		}
		if flags.Changed("no-tree-shaking") {
			cfg.EnableTreeShaking = !buildNoTreeShaking
		}
		if flags.Changed("no-minify") {
			cfg.EnableMinification = !buildNoMinify
		}
		if flags.Changed("source-maps") {
			cfg.EnableSourceMaps = buildSourceMaps
		}
		if flags.Changed("no-cache") {
			cfg.DisableCache = buildNoCache
		}
		if flags.Changed("splitting") {
			cfg.EnableCodeSplitting = buildCodeSplitting
		}
		if flags.Changed("max-chunk-size") {
			cfg.MaxChunkSize = buildMaxChunkSize
		}

		env := config.LoadEnv(cfg.Root, cfg.Mode, logger.NewLog(logger.LevelWarning))

		result, err := api.Build(context.Background(), api.Options{
			BuildConfig: cfg,
			Env:         env,
			LogLevel:    logger.LevelInfo,
		})
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}

		for _, w := range result.Warnings {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage("warning", w))
		}
		for _, e := range result.Errors {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage("error", e))
		}

		if !result.Success {
			return fmt.Errorf("build failed with %d error(s)", len(result.Errors))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "built %d module(s) into %d file(s) -> %s\n",
			result.Stats.ModuleCount, len(result.OutputFiles), cfg.OutDir)
		if result.Stats.HadTreeShaking {
			ts := result.Stats.TreeShaking
			fmt.Fprintf(cmd.OutOrStdout(), "tree shaking: %d/%d exports used\n", ts.UsedExports, ts.TotalExports)
		}
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildRoot, "root", ".", "project root directory")
	buildCmd.Flags().StringVar(&buildOutDir, "outdir", "dist", "output directory")
	buildCmd.Flags().BoolVar(&buildNoTreeShaking, "no-tree-shaking", false, "disable dead code elimination")
	buildCmd.Flags().BoolVar(&buildNoMinify, "no-minify", false, "disable minification")
	buildCmd.Flags().BoolVar(&buildSourceMaps, "source-maps", false, "emit source maps")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "disable the on-disk content cache")
	buildCmd.Flags().BoolVar(&buildCodeSplitting, "splitting", false, "enable code splitting")
	buildCmd.Flags().IntVar(&buildMaxChunkSize, "max-chunk-size", 0, "maximum chunk size in bytes (0 = unlimited, requires --splitting)")
}

// formatMessage renders one collected diagnostic the way a terminal build
// log shows it: kind, location (if any), then text.
func formatMessage(kind string, m api.Message) string {
	if m.Path == "" {
		return fmt.Sprintf("%s: %s", kind, m.Text)
	}
	return fmt.Sprintf("%s: %s:%d: %s", kind, m.Path, m.Line, m.Text)
}

// loadConfig merges the default config, ultra.config.json, and the CLI's
// own entry override, per spec.md §6's precedence (CLI overrides file
// overrides defaults — applied by each subcommand's RunE after this call).
func loadConfig(root, entry, mode string) (config.BuildConfig, error) {
	cfg := config.Default(root)
	cfg.Mode = mode
	cfg, err := config.LoadFile(cfg, root)
	if err != nil {
		return config.BuildConfig{}, usageErrorf("%v", err)
	}
	if entry != "" {
		cfg.Entry = entry
	}
	return cfg, nil
}
