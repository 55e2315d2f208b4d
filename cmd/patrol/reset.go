package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/run"
)

var resetCmd = &cobra.Command{
	Use:   "reset [item...]",
	Short: "Clear error escalation so items re-enter the scoring pool",
	Long: `Reset errored items. Items that failed repeatedly are excluded from
batch selection until reset; this command is the way back in.

With no arguments every errored item is reset.`,
	Run: func(cmd *cobra.Command, args []string) {
		root, cfg := loadProject()
		ctx := context.Background()

		r, err := run.NewRunner(ctx, root, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		n, err := r.Reset(ctx, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Reset %d item(s)\n", green("✓"), n)
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
