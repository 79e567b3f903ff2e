package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bcentdev/soku/pkg/api"
)

var (
	previewDir  string
	previewPort int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Serve a built output directory statically",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if previewPort <= 0 {
			return usageErrorf("--port must be a positive integer, got %d", previewPort)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "serving %s on http://127.0.0.1:%d\n", previewDir, previewPort)
		if err := api.Serve(previewDir, previewPort); err != nil {
			return fmt.Errorf("preview: %w", err)
		}
		return nil
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewDir, "dir", "dist", "directory to serve")
	previewCmd.Flags().IntVar(&previewPort, "port", 4173, "port to listen on")
}
