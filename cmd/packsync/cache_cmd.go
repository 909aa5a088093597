package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cacheOlderThan time.Duration

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the registry lookup cache",
		Long: `Manage the persistent cache of registry lookups. Cached results let repeated
packs of the same instance skip the network.`,
		Example: `  packsync cache stats
  packsync cache clear
  packsync cache clear --older-than 72h`,
	}

	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of cached lookups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalStore == nil {
				return fmt.Errorf("store not initialized")
			}
			n, err := globalStore.CountResolutions()
			if err != nil {
				return err
			}
			printKeyValue("Database", globalCfg.DBPath())
			printKeyValue("Cached lookups", n)
			printKeyValue("TTL", globalCfg.Registry.CacheTTL)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached lookups",
		RunE: func(cmd *cobra.Command, args []string) error {
			if globalStore == nil {
				return fmt.Errorf("store not initialized")
			}
			var cutoff time.Time
			if cacheOlderThan > 0 {
				cutoff = time.Now().Add(-cacheOlderThan)
			}
			n, err := globalStore.PurgeResolutions(cutoff)
			if err != nil {
				return err
			}
			printSuccess("Removed %d cached lookups", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&cacheOlderThan, "older-than", 0, "only remove entries fetched before this long ago")
	return cmd
}
