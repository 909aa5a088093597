package main

import (
	"fmt"
	"sort"

	"github.com/BadgerOps/packsync/internal/engine"
	"github.com/spf13/cobra"
)

var inspectFiles bool

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Show the manifest of a .mrpack archive",
		Long: `Show the metadata, dependencies, and contents of a .mrpack archive without
unpacking it or contacting the registry.`,
		Example: `  packsync inspect modpack.mrpack
  packsync inspect modpack.mrpack --files`,
		Args: cobra.ExactArgs(1),
		RunE: inspectRun,
	}

	cmd.Flags().BoolVar(&inspectFiles, "files", false, "list every tracked file and override")

	return cmd
}

func inspectRun(cmd *cobra.Command, args []string) error {
	summary, err := engine.Inspect(args[0])
	if err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}
	idx := summary.Index

	printTitle(idx.Name)
	printKeyValue("Version", idx.VersionID)
	printKeyValue("Summary", idx.Summary)
	printKeyValue("Format", fmt.Sprintf("%d (%s)", idx.FormatVersion, idx.Game))
	printKeyValue("Archive size", formatBytes(summary.ArchiveSize))
	printKeyValue("Tracked files", fmt.Sprintf("%d (%s)", len(idx.Files), formatBytes(idx.TotalSize())))
	printKeyValue("Overrides", len(summary.Overrides))
	printKeyValue("Client overrides", len(summary.ClientOverrides))

	names := make([]string, 0, len(idx.Dependencies))
	for name := range idx.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		version, ok := idx.Dependencies.Get(name)
		if !ok {
			version = styleDim.Render("unspecified")
		}
		printKeyValue("Requires "+name, version)
	}

	if !inspectFiles {
		return nil
	}

	fmt.Println()
	printTitle("Tracked")
	for _, f := range idx.Files {
		fmt.Printf("  %s %s\n", f.Path, styleDim.Render(formatBytes(f.FileSize)))
	}
	if len(summary.Overrides) > 0 {
		fmt.Println()
		printTitle("Overrides")
		for _, p := range summary.Overrides {
			fmt.Printf("  %s\n", p)
		}
	}
	if len(summary.ClientOverrides) > 0 {
		fmt.Println()
		printTitle("Client overrides")
		for _, p := range summary.ClientOverrides {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}
