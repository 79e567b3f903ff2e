// Command soku is the CLI entry point for the bundler: build, dev, preview,
// and info subcommands, laid out one file per subcommand in the style of
// bennypowers-cem's cmd/root.go (rootCmd.Execute plus an explicit exit
// code), but built on cobra alone rather than also pulling in viper/pterm,
// since soku's config layer (internal/config) and logger already cover
// what those add there.
package main

import (
	"os"

	"github.com/bcentdev/soku/cmd/soku/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
