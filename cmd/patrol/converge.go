package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/converge"
	"github.com/codepatrol/patrol/internal/run"
)

var convergeCmd = &cobra.Command{
	Use:   "converge [item...]",
	Short: "Run the review-fix-verify loop until findings settle",
	Long: `Iteratively review the given items, apply repairs through the configured
fix command, and validate with the gate command, cycling until the
convergence score clears the bar or the effort tier's cycle cap is hit.

Requires repair.fix_command and repair.gate_command in .patrol.yaml.
With no arguments the loop scopes to the current priority selection.`,
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

		result, err := r.Converge(ctx, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printConvergeResult(result)
	},
}

func printConvergeResult(res *converge.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Println()
	for _, cy := range res.Cycles {
		fmt.Printf("  %s cycle %d: %d finding(s), %d change(s), score %.2f\n",
			gray("·"), cy.Cycle, cy.Findings, cy.ChangesApplied, cy.Score)
		for _, id := range cy.ChangesFailed {
			fmt.Printf("      %s change %s reverted\n", yellow("⚠"), id)
		}
	}
	fmt.Println()
	switch res.Phase {
	case converge.PhaseConverged:
		fmt.Printf("%s Converged after %d cycle(s), %d finding(s) remain\n",
			green("✓"), len(res.Cycles), len(res.Final))
	case converge.PhaseHalted:
		fmt.Printf("%s Halted at cycle cap without converging (best score %.2f); keeping best state\n",
			yellow("⚠"), res.BestScore)
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(convergeCmd)
}
