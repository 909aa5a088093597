package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/packsync/internal/config"
	"github.com/BadgerOps/packsync/internal/download"
	"github.com/BadgerOps/packsync/internal/engine"
	"github.com/BadgerOps/packsync/internal/registry"
	"github.com/BadgerOps/packsync/internal/safety"
	"github.com/BadgerOps/packsync/internal/store"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore  *store.Store
	globalEngine *engine.Manager
)

// initializeComponents opens the store and wires the resolver, download
// client, and engine.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if !globalCfg.Store.Disabled {
		if err := openStore(); err != nil {
			// Run history is optional.
			logger.Warn("run history disabled", "error", err)
		}
	}

	timeout, err := globalCfg.RegistryTimeout()
	if err != nil {
		return err
	}
	ttl, err := globalCfg.RegistryCacheTTL()
	if err != nil {
		return err
	}
	maxBody, err := globalCfg.MaxResponseBytes()
	if err != nil {
		return err
	}

	opts := registry.Options{
		BaseURL:         globalCfg.Registry.BaseURL,
		HTTPClient:      safety.NewHTTPClient(timeout, globalCfg.Registry.UserAgent),
		RetryAttempts:   globalCfg.Registry.RetryAttempts,
		MaxResponseSize: maxBody,
		MemoryCacheSize: globalCfg.Registry.CacheSize,
		CacheTTL:        ttl,
	}
	if globalStore != nil {
		opts.Cache = registry.NewStoreCache(globalStore)
	}
	resolver, err := registry.NewResolver(opts, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	client := download.NewClient(logger)
	client.SetUserAgent(globalCfg.Registry.UserAgent)
	globalEngine = engine.NewManager(resolver, client, globalStore, globalCfg, logger)

	logger.Debug("components initialized", "registry", globalCfg.Registry.BaseURL, "store", globalStore != nil)
	return nil
}

func openStore() error {
	dbPath := globalCfg.DBPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"inspect": true,
	}
	if skipInitCmds[cmd.Name()] {
		return true
	}
	return cmd.HasParent() && skipInitCmds[cmd.Parent().Name()]
}

// needsStoreOnly reports commands that read the database but never contact
// the registry.
func needsStoreOnly(cmd *cobra.Command) bool {
	name := cmd.Name()
	if cmd.HasParent() && cmd.Parent().Name() == "cache" {
		return true
	}
	return name == "history"
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "packsync",
		Short: "Build and reconstruct Modrinth modpack archives",
		Long: `packsync converts a game instance directory into a portable .mrpack archive
and back. Files the content registry knows are recorded by hash and download
URL; everything else can be bundled as an override. Unpacking merges the
bundled files and downloads every tracked file with hash verification and
mirror fallback.`,
		Example: `  packsync pack --from ~/.minecraft --to modpack.mrpack --minecraft 1.20.1
  packsync pack --from ./instance --categories mods,config --force-override
  packsync unpack --from modpack.mrpack --to ./server
  packsync inspect modpack.mrpack
  packsync history --direction unpack`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath)
			}

			switch {
			case shouldSkipComponentInit(cmd):
				return nil
			case needsStoreOnly(cmd):
				if globalCfg.Store.Disabled {
					return fmt.Errorf("run history is disabled (store.disabled: true)")
				}
				return openStore()
			default:
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
				return nil
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "pretty", "log format (pretty, text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newPackCmd(),
		newUnpackCmd(),
		newInspectCmd(),
		newHistoryCmd(),
		newCacheCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           charmLevel(level),
		})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func charmLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level <= slog.LevelInfo:
		return charmlog.InfoLevel
	case level <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
