// Package config loads kerndbg configuration from YAML or TOML files with
// environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jtang613/kerndbg/internal/catalog"
	"github.com/jtang613/kerndbg/internal/logging"
	"github.com/jtang613/kerndbg/internal/report"
	"github.com/jtang613/kerndbg/internal/retry"
	"github.com/jtang613/kerndbg/internal/symsrv"
)

// Config is the complete kerndbg configuration.
type Config struct {
	SymbolServer string `yaml:"symbol_server" toml:"symbol_server" env:"KERNDBG_SYMBOL_SERVER"`
	ImageName    string `yaml:"image_name" toml:"image_name" env:"KERNDBG_IMAGE_NAME"`
	CatalogPath  string `yaml:"catalog" toml:"catalog" env:"KERNDBG_CATALOG"`
	OutputDir    string `yaml:"output_dir" toml:"output_dir" env:"KERNDBG_OUTPUT_DIR"`
	CacheDir     string `yaml:"cache_dir" toml:"cache_dir" env:"KERNDBG_CACHE_DIR"`

	// Limit caps the number of catalog entries processed; 0 means all.
	Limit int `yaml:"limit" toml:"limit" env:"KERNDBG_LIMIT"`
	// Jobs is the number of entries processed concurrently.
	Jobs int `yaml:"jobs" toml:"jobs" env:"KERNDBG_JOBS"`
	// Base is the module base address added to every reported offset.
	Base uint64 `yaml:"base" toml:"base" env:"KERNDBG_BASE"`

	HTTPTimeout     time.Duration `yaml:"http_timeout" toml:"http_timeout" env:"KERNDBG_HTTP_TIMEOUT"`
	MaxDownloadSize int64         `yaml:"max_download_size" toml:"max_download_size" env:"KERNDBG_MAX_DOWNLOAD_SIZE"`

	Releases  []catalog.Release `yaml:"releases" toml:"releases"`
	Catalogue report.Catalogue  `yaml:"catalogue" toml:"catalogue"`
	Retry     retry.Config      `yaml:"retry" toml:"retry"`
	Log       LogConfig         `yaml:"log" toml:"log"`
}

// LogConfig is the file form of logging.Config.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"KERNDBG_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" toml:"pretty" env:"KERNDBG_LOG_PRETTY"`
}

// Logging converts the file form into a logging.Config.
func (l LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = l.Level
	cfg.Pretty = l.Pretty
	return cfg
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SymbolServer:    symsrv.DefaultServer,
		ImageName:       "ntoskrnl.exe",
		CatalogPath:     "ntoskrnl.exe.json",
		OutputDir:       "files",
		CacheDir:        filepath.Join("files", ".cache"),
		Limit:           100,
		Jobs:            4,
		HTTPTimeout:     2 * time.Minute,
		MaxDownloadSize: symsrv.DefaultMaxSize,
		Releases:        catalog.DefaultReleases(),
		Catalogue:       report.DefaultCatalogue(),
		Retry:           retry.DefaultConfig(),
		Log:             LogConfig{Level: "info", Pretty: true},
	}
}

// Load reads the file at path over the defaults, then applies KERNDBG_*
// environment overrides and validates the result. An empty path skips the
// file. The format follows the extension: .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// Validate checks the configuration for values the pipeline cannot use.
func (c *Config) Validate() error {
	u, err := url.Parse(c.SymbolServer)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("symbol_server must be an http(s) URL, got %q", c.SymbolServer)
	}
	if strings.TrimSpace(c.ImageName) == "" {
		return fmt.Errorf("image_name must not be empty")
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", c.Limit)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1, got %d", c.Jobs)
	}
	if c.MaxDownloadSize <= 0 {
		return fmt.Errorf("max_download_size must be positive, got %d", c.MaxDownloadSize)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be within [0, 1], got %v", c.Retry.Jitter)
	}
	for i, r := range c.Releases {
		if r.Version == "" {
			return fmt.Errorf("releases[%d] has no version", i)
		}
	}
	return nil
}
