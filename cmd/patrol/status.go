package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/codepatrol/patrol/internal/history"
	"github.com/codepatrol/patrol/internal/state"
	"github.com/codepatrol/patrol/internal/types"
)

var statusShowItems int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked items, coverage, and recent run history",
	Run: func(cmd *cobra.Command, args []string) {
		root, cfg := loadProject()

		stateDir := cfg.StateDir
		if !filepath.IsAbs(stateDir) {
			stateDir = filepath.Join(root, stateDir)
		}

		store, err := state.Open(stateDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Patrol Status ==="))

		st, err := store.LoadState()
		if errors.Is(err, state.ErrNotFound) {
			fmt.Printf("  %s\n\n", gray("No state yet. Run `patrol run` to start."))
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s\n", yellow("Inventory:"))
		fmt.Printf("  Tracked items: %d\n", st.Stats.TotalItems)
		fmt.Printf("  Coverage:      %.1f%% audited\n", st.Stats.CoveragePercent)
		printStatusCounts(st)
		fmt.Println()

		printErroredItems(st)
		printRecentRuns(filepath.Join(stateDir, "history.db"))
	},
}

func printStatusCounts(st *state.State) {
	counts := make(map[types.ItemStatus]int)
	for _, item := range st.Items {
		counts[item.Status]++
	}
	order := []types.ItemStatus{
		types.StatusNeverAudited, types.StatusStale, types.StatusAudited,
		types.StatusError, types.StatusErrorPermanent, types.StatusDeleted,
	}
	for _, s := range order {
		if counts[s] > 0 {
			fmt.Printf("    %-16s %d\n", string(s), counts[s])
		}
	}
}

func printErroredItems(st *state.State) {
	var errored []*types.WorkItem
	for _, item := range st.Items {
		if item.Status == types.StatusError || item.Status == types.StatusErrorPermanent {
			errored = append(errored, item)
		}
	}
	if len(errored) == 0 {
		return
	}
	sort.Slice(errored, func(i, j int) bool { return errored[i].ID < errored[j].ID })

	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("%s\n", red("Errored items:"))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Item", "Status", "Failures", "Cooldown"})
	show := errored
	if statusShowItems > 0 && len(show) > statusShowItems {
		show = show[:statusShowItems]
	}
	for _, item := range show {
		t.AppendRow(table.Row{item.ID, string(item.Status),
			item.ConsecutiveErrors, item.ErrorCooldown})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	if len(errored) > len(show) {
		fmt.Printf("  … and %d more\n", len(errored)-len(show))
	}
	fmt.Println()
}

func printRecentRuns(histPath string) {
	if _, err := os.Stat(histPath); err != nil {
		return
	}
	hist, err := history.Open(histPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot read history: %v\n", err)
		return
	}
	defer hist.Close()

	records, err := hist.Records()
	if err != nil || len(records) == 0 {
		return
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Printf("%s\n", yellow("Recent runs:"))

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Finished", "Batch", "Completed", "Errors", "Coverage"})
	start := 0
	if len(records) > 5 {
		start = len(records) - 5
	}
	for _, rec := range records[start:] {
		t.AppendRow(table.Row{
			humanize.Time(rec.FinishedAt),
			len(rec.Batch),
			len(rec.Completed),
			len(rec.Errored),
			fmt.Sprintf("%.1f%%", rec.CoverageAfter),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	fmt.Println()
}

func init() {
	statusCmd.Flags().IntVar(&statusShowItems, "limit", 20, "max errored items to list")
	rootCmd.AddCommand(statusCmd)
}
