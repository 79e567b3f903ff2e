package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcentdev/soku/internal/config"
)

// version is set at release time via -ldflags; "dev" covers local builds.
var version = "dev"

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print version and the default capability set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default(".")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "soku %s\n", version)
		fmt.Fprintln(out, "capabilities:")
		fmt.Fprintf(out, "  tree shaking:    %s\n", enabled(cfg.EnableTreeShaking))
		fmt.Fprintf(out, "  minification:    %s\n", enabled(cfg.EnableMinification))
		fmt.Fprintf(out, "  source maps:     %s\n", enabled(cfg.EnableSourceMaps))
		fmt.Fprintf(out, "  code splitting:  %s\n", enabled(cfg.EnableCodeSplitting))
		return nil
	},
}

func enabled(v bool) string {
	if v {
		return "enabled (default)"
	}
	return "disabled (default)"
}
