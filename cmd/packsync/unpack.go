package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/BadgerOps/packsync/internal/engine"
	"github.com/spf13/cobra"
)

var (
	unpackFrom      string
	unpackTo        string
	unpackSkipHash  bool
	unpackOverwrite bool
	unpackStrict    bool
	unpackWorkers   int
)

// errPartial marks an unpack that finished with per-file failures under
// --strict.
var errPartial = errors.New("some files could not be downloaded")

func newUnpackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpack",
		Short: "Reconstruct an instance directory from a .mrpack archive",
		Long: `Reconstruct an instance directory from a .mrpack archive. Bundled overrides
are merged into <to>/<unpack.target_subdir>, then every tracked file is
downloaded from its mirrors in order and verified against its SHA-1.

A file that fails on every mirror is reported and the run continues. Use
--strict to exit non-zero when that happens.`,
		Example: `  packsync unpack --from modpack.mrpack --to ./server
  packsync unpack --from modpack.mrpack --to ./client --overwrite --strict
  packsync unpack --from modpack.mrpack --to ./test --skip-hash`,
		RunE: unpackRun,
	}

	cmd.Flags().StringVar(&unpackFrom, "from", "", "archive to unpack (required)")
	cmd.Flags().StringVar(&unpackTo, "to", "", "output directory (required)")
	cmd.Flags().BoolVar(&unpackSkipHash, "skip-hash", false, "accept downloads without verifying their SHA-1")
	cmd.Flags().BoolVar(&unpackOverwrite, "overwrite", false, "unpack into a non-empty destination")
	cmd.Flags().BoolVar(&unpackStrict, "strict", false, "exit non-zero if any file fails")
	cmd.Flags().IntVar(&unpackWorkers, "workers", 0, "concurrent downloads (default unpack.workers)")

	for _, name := range []string{"from", "to"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	return cmd
}

func unpackRun(cmd *cobra.Command, args []string) error {
	if globalEngine == nil {
		return fmt.Errorf("engine not initialized")
	}

	if unpackSkipHash {
		logger.Warn("hash verification disabled; downloaded files are not checked")
	}

	stop := startProgress(cmd.Context(), globalEngine)
	report, err := globalEngine.Unpack(cmd.Context(), engine.UnpackOptions{
		ArchivePath: unpackFrom,
		OutputDir:   unpackTo,
		SkipHash:    unpackSkipHash,
		Workers:     unpackWorkers,
		Overwrite:   unpackOverwrite,
	})
	stop()
	if err != nil {
		if report != nil && !quiet {
			printUnpackReport(report)
		}
		return fmt.Errorf("unpack failed: %w", err)
	}

	if !quiet {
		printUnpackReport(report)
	}
	if unpackStrict && len(report.Failed) > 0 {
		return fmt.Errorf("%w: %d failed", errPartial, len(report.Failed))
	}
	return nil
}

func printUnpackReport(report *engine.UnpackReport) {
	printTitle(fmt.Sprintf("Unpacked %s %s", report.Name, report.VersionID))
	printKeyValue("Destination", report.Destination)
	printKeyValue("Overrides merged", report.OverridesMerged)
	printKeyValue("Downloaded", report.Downloaded)
	printKeyValue("Failed", len(report.Failed))
	printKeyValue("Transferred", formatBytes(report.BytesTransferred))
	printKeyValue("Duration", report.Duration.Round(time.Millisecond))

	if len(report.Failed) == 0 {
		printSuccess("%d succeeded, 0 failed", report.Downloaded)
		return
	}
	printWarning("%d succeeded, %d failed", report.Downloaded, len(report.Failed))
	for _, f := range report.Failed {
		printFailure(f.Path, f.Err)
	}
}
