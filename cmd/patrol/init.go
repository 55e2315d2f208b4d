package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/config"
)

const starterConfig = `# Patrol configuration. Every section is optional; omitted fields use
# built-in defaults.

worker:
  type: command
  command: ["./scripts/analyze"]

batch:
  batch_size: 30

# risk:
#   - pattern: "internal/auth/**"
#     tier: critical

# repair:
#   fix_command: ["./scripts/fix"]
#   gate_command: ["make", "test"]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .patrol.yaml in the current directory",
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get current directory: %v\n", err)
			os.Exit(1)
		}

		path := filepath.Join(cwd, config.DefaultFileName)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
			os.Exit(1)
		}

		if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s Wrote %s\n\n", green("✓"), path)
		fmt.Printf("%s Edit worker.command, then run `patrol run`\n\n", gray("→"))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
