package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "patrol",
	Short: "Incremental audit scheduler for code repositories",
	Long: `Patrol keeps a repository under continuous review by tracking every
work item (files, declared workflows, endpoints), scoring what most
deserves attention, and dispatching bounded batches to analysis workers.

State lives in .patrol/ at the project root; configuration in .patrol.yaml.
Interrupted runs resume automatically from their checkpoint.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadProject resolves the working directory and its configuration, exiting
// on failure the way every subcommand expects.
func loadProject() (string, *config.Config) {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cwd, cfg
}
