package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BadgerOps/packsync/internal/engine"
	"github.com/BadgerOps/packsync/internal/manifest"
	"github.com/spf13/cobra"
)

var (
	packFrom          string
	packTo            string
	packVersionID     string
	packName          string
	packSummary       string
	packMinecraft     string
	packFabricLoader  string
	packForceOverride bool
	packCategories    []string
	packOverwrite     bool
	packWorkers       int
)

func newPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Build a .mrpack archive from an instance directory",
		Long: `Build a .mrpack archive from an instance directory. Every file under the
selected categories is hashed and looked up in the content registry. Files the
registry knows are recorded in modrinth.index.json with their download URLs.
Unknown files are offered as overrides, bundled inside the archive.

config/ is always bundled. mods/, resourcepacks/ and shaderpacks/ are
resolved first. Without a terminal, or with --force-override, no questions are
asked: unresolved files are dropped, or bundled with --force-override.`,
		Example: `  packsync pack --from ~/.minecraft --to modpack.mrpack
  packsync pack --from ./instance --name "My Pack" --minecraft 1.20.1 --fabric-loader 0.15.7
  packsync pack --from ./instance --categories mods,resourcepacks --force-override`,
		RunE: packRun,
	}

	cmd.Flags().StringVar(&packFrom, "from", "", "instance directory to pack (required)")
	cmd.Flags().StringVar(&packTo, "to", "", "archive path (default <workspace.output_dir>/<pack.output_name>)")
	cmd.Flags().StringVar(&packVersionID, "version-id", "", "pack version")
	cmd.Flags().StringVar(&packName, "name", "", "pack name")
	cmd.Flags().StringVar(&packSummary, "summary", "", "pack summary")
	cmd.Flags().StringVar(&packMinecraft, "minecraft", "", "required game version")
	cmd.Flags().StringVar(&packFabricLoader, "fabric-loader", "", "required Fabric loader version")
	cmd.Flags().BoolVar(&packForceOverride, "force-override", false, "bundle every unresolved file without asking")
	cmd.Flags().StringSliceVar(&packCategories, "categories", nil, "categories to include (config, mods, resourcepacks, shaderpacks)")
	cmd.Flags().BoolVar(&packOverwrite, "overwrite", false, "replace an existing archive")
	cmd.Flags().IntVar(&packWorkers, "workers", 0, "concurrent registry lookups (default pack.workers)")

	if err := cmd.MarkFlagRequired("from"); err != nil {
		panic(err)
	}

	return cmd
}

func packRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	var categories map[engine.Category]bool
	if len(packCategories) > 0 {
		var err error
		categories, err = engine.ParseCategories(packCategories)
		if err != nil {
			return err
		}
	}

	deps := manifest.Dependencies{}
	deps.Set(manifest.DependencyMinecraft, packMinecraft)
	deps.Set(manifest.DependencyFabricLoader, packFabricLoader)

	var policy engine.OverridePolicy = engine.ForceOverrides(true)
	if !packForceOverride {
		policy = newPromptPolicy(os.Stdin, os.Stdout, logger)
	}

	opts := engine.PackOptions{
		SourceDir:  packFrom,
		OutputPath: packTo,
		Metadata: manifest.Metadata{
			VersionID: packVersionID,
			Name:      packName,
			Summary:   packSummary,
		},
		Dependencies: deps,
		Categories:   categories,
		Policy:       policy,
		Workers:      packWorkers,
		Overwrite:    packOverwrite,
	}

	// No status line while prompting.
	stop := func() {}
	if packForceOverride {
		stop = startProgress(cmd.Context(), globalEngine)
	}
	report, err := globalEngine.Pack(cmd.Context(), opts)
	stop()
	if err != nil {
		return fmt.Errorf("pack failed: %w", err)
	}

	if !quiet {
		printPackReport(report)
	}
	return nil
}

func printPackReport(report *engine.PackReport) {
	printTitle("Pack complete")
	printKeyValue("Archive", report.ArchivePath)
	printKeyValue("Tracked", report.Tracked)
	printKeyValue("Bundled config", report.Bundled)
	printKeyValue("Overrides", report.Overridden)
	printKeyValue("Dropped", report.Dropped)
	printKeyValue("Tracked size", formatBytes(report.TotalSize))
	printKeyValue("Manifest SHA-1", report.ManifestSHA1)
	printKeyValue("Duration", report.Duration.Round(time.Millisecond))
	if len(report.Failed) > 0 {
		printWarning("%d files could not be processed:", len(report.Failed))
		for _, f := range report.Failed {
			printFailure(f.Path, f.Err)
		}
	}
}
