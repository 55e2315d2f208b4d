package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/run"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one audit pass over the highest-priority batch",
	Long: `Inventory the project, score every tracked item, select a batch, and
dispatch it to the configured worker.

If a previous run was interrupted mid-batch, its remaining items are
picked up first. Progress is checkpointed after every completed item, so
interrupting a run (Ctrl-C) never loses finished work.`,
	Run: func(cmd *cobra.Command, args []string) {
		root, cfg := loadProject()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		r, err := run.NewRunner(ctx, root, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer r.Close()

		report, err := r.Run(ctx)
		if err != nil && report == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printReport(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: run finished with errors: %v\n", err)
			os.Exit(1)
		}
	},
}

func printReport(rep *run.Report) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Println()
	if rep.Resumed {
		fmt.Printf("%s Resumed interrupted batch\n", yellow("↻"))
	}
	fmt.Printf("%s Run %s completed in %s\n", green("✓"), rep.RunID,
		rep.Duration.Round(time.Millisecond))
	fmt.Printf("  Items:    %d attempted, %d completed\n", rep.Attempted, rep.Completed)
	fmt.Printf("  Findings: %d\n", rep.Findings)
	fmt.Printf("  Coverage: %.1f%% → %.1f%%\n", rep.CoverageBefore, rep.CoverageAfter)
	if rep.Truncated {
		fmt.Printf("  %s batch truncated to fit token budget (~%s tokens)\n",
			gray("·"), humanize.Comma(int64(rep.EstimatedCost)))
	}
	if len(rep.StaleFlagged) > 0 {
		fmt.Printf("  %s %d item(s) flagged stale during dispatch\n",
			yellow("⚠"), len(rep.StaleFlagged))
	}
	if rep.TimedOut {
		fmt.Printf("  %s batch hit the total timeout; results are partial\n", yellow("⚠"))
	}
	for _, id := range rep.Errored {
		fmt.Printf("  %s %s\n", red("✗"), id)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
