package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errUsage marks a failure in flag/argument validation rather than in the
// build itself, so Execute can tell the two apart for spec.md §6's exit
// codes (0 success, 1 build error, 2 usage error).
var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

var rootCmd = &cobra.Command{
	Use:           "soku",
	Short:         "A JavaScript/TypeScript/CSS bundler with HMR",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(devCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(infoCmd)
}

// Execute runs the root command and returns the process exit code per
// spec.md §6.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "soku:", err)
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}
