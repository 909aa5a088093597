package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Registry  RegistryConfig  `yaml:"registry"`
	Pack      PackConfig      `yaml:"pack"`
	Unpack    UnpackConfig    `yaml:"unpack"`
	Store     StoreConfig     `yaml:"store"`
}

// WorkspaceConfig holds filesystem locations
type WorkspaceConfig struct {
	WorkDir   string `yaml:"work_dir"`   // staging parent; empty uses the system temp dir
	OutputDir string `yaml:"output_dir"` // default destination for pack output
}

// RegistryConfig holds content registry settings
type RegistryConfig struct {
	BaseURL         string `yaml:"base_url"`
	UserAgent       string `yaml:"user_agent"` // sent with registry queries and downloads
	Timeout         string `yaml:"timeout"`
	RetryAttempts   int    `yaml:"retry_attempts"`
	MaxResponseSize string `yaml:"max_response_size"`
	CacheTTL        string `yaml:"cache_ttl"`
	CacheSize       int    `yaml:"cache_size"`
}

// PackConfig holds defaults for building archives
type PackConfig struct {
	VersionID        string `yaml:"version_id"`
	Name             string `yaml:"name"`
	Summary          string `yaml:"summary"`
	OutputName       string `yaml:"output_name"`
	Workers          int    `yaml:"workers"`
	CompressionLevel int    `yaml:"compression_level"`
}

// UnpackConfig holds defaults for reconstructing trees
type UnpackConfig struct {
	TargetSubdir  string `yaml:"target_subdir"`
	Workers       int    `yaml:"workers"`
	RetryAttempts int    `yaml:"retry_attempts"`
	SkipHash      bool   `yaml:"skip_hash"`
}

// StoreConfig holds run history and cache database settings
type StoreConfig struct {
	DBPath   string `yaml:"db_path"`
	Disabled bool   `yaml:"disabled"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			WorkDir:   "",
			OutputDir: "Result",
		},
		Registry: RegistryConfig{
			BaseURL:         "https://api.modrinth.com/v2",
			UserAgent:       "packsync/1.0",
			Timeout:         "30s",
			RetryAttempts:   3,
			MaxResponseSize: "4MiB",
			CacheTTL:        "168h",
			CacheSize:       4096,
		},
		Pack: PackConfig{
			VersionID:        "1.0.0",
			Name:             "Custom Modpack",
			Summary:          "Automatically generated modpack",
			OutputName:       "output.mrpack",
			Workers:          8,
			CompressionLevel: 6,
		},
		Unpack: UnpackConfig{
			TargetSubdir:  ".minecraft",
			Workers:       8,
			RetryAttempts: 3,
			SkipHash:      false,
		},
		Store: StoreConfig{
			DBPath:   "",
			Disabled: false,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"packsync.yaml",
		"/etc/packsync/packsync.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "packsync", "packsync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Registry.BaseURL == "" {
		errs = append(errs, errors.New("registry.base_url is required"))
	}
	if _, err := c.RegistryTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RegistryCacheTTL(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.MaxResponseBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("registry.retry_attempts must be >= 1, got %d", c.Registry.RetryAttempts))
	}
	if c.Registry.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("registry.cache_size must be >= 1, got %d", c.Registry.CacheSize))
	}
	if c.Pack.Workers < 1 {
		errs = append(errs, fmt.Errorf("pack.workers must be >= 1, got %d", c.Pack.Workers))
	}
	if c.Pack.CompressionLevel < -2 || c.Pack.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("pack.compression_level must be between -2 and 9, got %d", c.Pack.CompressionLevel))
	}
	if c.Pack.OutputName == "" {
		errs = append(errs, errors.New("pack.output_name is required"))
	}
	if c.Unpack.Workers < 1 {
		errs = append(errs, fmt.Errorf("unpack.workers must be >= 1, got %d", c.Unpack.Workers))
	}
	if c.Unpack.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("unpack.retry_attempts must be >= 1, got %d", c.Unpack.RetryAttempts))
	}
	if c.Unpack.TargetSubdir == "" || filepath.IsAbs(c.Unpack.TargetSubdir) {
		errs = append(errs, fmt.Errorf("unpack.target_subdir must be a relative directory name, got %q", c.Unpack.TargetSubdir))
	}

	return errors.Join(errs...)
}

// RegistryTimeout parses registry.timeout.
func (c *Config) RegistryTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Registry.Timeout)
	if err != nil {
		return 0, fmt.Errorf("registry.timeout: %w", err)
	}
	return d, nil
}

// RegistryCacheTTL parses registry.cache_ttl. An empty value means entries
// never expire.
func (c *Config) RegistryCacheTTL() (time.Duration, error) {
	if c.Registry.CacheTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Registry.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("registry.cache_ttl: %w", err)
	}
	return d, nil
}

// MaxResponseBytes parses registry.max_response_size, e.g. "4MiB".
func (c *Config) MaxResponseBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Registry.MaxResponseSize)
	if err != nil {
		return 0, fmt.Errorf("registry.max_response_size: %w", err)
	}
	if n == 0 {
		return 0, errors.New("registry.max_response_size must be positive")
	}
	return int64(n), nil
}

// DBPath returns the configured database path, defaulting to a file in the
// user's config directory.
func (c *Config) DBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "packsync", "packsync.db")
	}
	return "packsync.db"
}

// PackOutputPath returns the default archive path for pack.
func (c *Config) PackOutputPath() string {
	return filepath.Join(c.Workspace.OutputDir, c.Pack.OutputName)
}
