package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	historyDirection string
	historyLimit     int
	historyRunID     string
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past pack and unpack runs",
		Long: `List past pack and unpack runs from the local database, newest first.
Use --run to show the files that failed in one run.`,
		Example: `  packsync history
  packsync history --direction unpack --limit 5
  packsync history --run 6f1c2d9e-...`,
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyDirection, "direction", "", "filter by direction (pack or unpack)")
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show (0 for all)")
	cmd.Flags().StringVar(&historyRunID, "run", "", "show failed files of this run")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("store not initialized")
	}

	if historyRunID != "" {
		return printFailedFiles(historyRunID)
	}

	switch historyDirection {
	case "", "pack", "unpack":
	default:
		return fmt.Errorf("invalid direction %q (want pack or unpack)", historyDirection)
	}

	runs, err := globalStore.ListRuns(historyDirection, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Printf("%-36s %-7s %-8s %8s %8s %8s %10s %-16s\n",
		"Run", "Dir", "Status", "Tracked", "Override", "Failed", "Size", "Started")
	fmt.Println(strings.Repeat("-", 110))
	for _, r := range runs {
		fmt.Printf("%-36s %-7s %-8s %8d %8d %8d %10s %-16s\n",
			r.ID,
			r.Direction,
			r.Status,
			r.Tracked,
			r.Overridden,
			r.Failed,
			formatBytes(r.TotalSize),
			r.StartTime.Local().Format("2006-01-02 15:04"),
		)
	}
	return nil
}

func printFailedFiles(runID string) error {
	run, err := globalStore.GetRun(runID)
	if err != nil {
		return err
	}

	printTitle(fmt.Sprintf("%s run %s", run.Direction, run.ID))
	printKeyValue("Source", run.Source)
	printKeyValue("Target", run.Target)
	printKeyValue("Status", run.Status)
	if run.ErrorMessage != "" {
		printKeyValue("Error", run.ErrorMessage)
	}

	failed, err := globalStore.ListFailedFiles(runID)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		fmt.Println("No failed files.")
		return nil
	}
	for _, f := range failed {
		fmt.Printf("  %s %s\n", f.Path, styleDim.Render(f.Error))
		for _, u := range f.URLs {
			fmt.Printf("      %s\n", styleDim.Render(u))
		}
	}
	return nil
}
