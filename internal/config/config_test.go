package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/kerndbg/internal/catalog"
	"github.com/jtang613/kerndbg/internal/symsrv"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, symsrv.DefaultServer, cfg.SymbolServer)
	assert.Equal(t, "ntoskrnl.exe", cfg.ImageName)
	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
	assert.NotEmpty(t, cfg.Releases)
	assert.NotEmpty(t, cfg.Catalogue.Fields)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "kerndbg.yaml", `
symbol_server: https://symbols.example.com/download/symbols
output_dir: out
limit: 5
jobs: 2
base: 0xfffff80000000000
http_timeout: 30s
releases:
  - codename: Windows 11 23H2
    version: "10.0.22631"
catalogue:
  symbols: [PsActiveProcessHead]
  fields: [_KPRCB.CurrentThread]
retry:
  max_retries: 2
  initial_backoff: 1s
log:
  level: debug
  pretty: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://symbols.example.com/download/symbols", cfg.SymbolServer)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.Equal(t, 5, cfg.Limit)
	assert.Equal(t, 2, cfg.Jobs)
	assert.Equal(t, uint64(0xfffff80000000000), cfg.Base)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, []catalog.Release{{Codename: "Windows 11 23H2", Version: "10.0.22631"}}, cfg.Releases)
	assert.Equal(t, []string{"PsActiveProcessHead"}, cfg.Catalogue.Symbols)
	assert.Equal(t, []string{"_KPRCB.CurrentThread"}, cfg.Catalogue.Fields)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)

	// Unset keys keep their defaults.
	assert.Equal(t, "ntoskrnl.exe", cfg.ImageName)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "kerndbg.toml", `
image_name = "ntkrla57.exe"
catalog = "ntkrla57.exe.json"
jobs = 8

[[releases]]
codename = "Windows 10 22H2"
version = "10.0.19045"

[catalogue]
symbols = ["KiProcessorBlock"]
fields = ["_EPROCESS.Token", "_KTHREAD.Teb"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ntkrla57.exe", cfg.ImageName)
	assert.Equal(t, "ntkrla57.exe.json", cfg.CatalogPath)
	assert.Equal(t, 8, cfg.Jobs)
	require.Len(t, cfg.Releases, 1)
	assert.Equal(t, "10.0.19045", cfg.Releases[0].Version)
	assert.Equal(t, []string{"_EPROCESS.Token", "_KTHREAD.Teb"}, cfg.Catalogue.Fields)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unsupported format", "kerndbg.json", `{}`, "unsupported config format"},
		{"bad yaml", "kerndbg.yaml", "jobs: [", "failed to parse config"},
		{"bad toml", "kerndbg.toml", "jobs = ", "failed to parse config"},
		{"invalid value", "kerndbg.yaml", "jobs: 0", "jobs must be >= 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KERNDBG_SYMBOL_SERVER", "http://localhost:8080/symbols")
	t.Setenv("KERNDBG_LIMIT", "0")
	t.Setenv("KERNDBG_BASE", "0x1000")
	t.Setenv("KERNDBG_HTTP_TIMEOUT", "5s")
	t.Setenv("KERNDBG_LOG_LEVEL", "warn")
	t.Setenv("KERNDBG_LOG_PRETTY", "false")

	path := writeConfig(t, "kerndbg.yaml", "limit: 7\nlog:\n  level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/symbols", cfg.SymbolServer)
	assert.Equal(t, 0, cfg.Limit, "a zero from the environment still overrides the file")
	assert.Equal(t, uint64(0x1000), cfg.Base)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "warn", cfg.Log.Level, "environment beats the file")
	assert.False(t, cfg.Log.Pretty)
}

func TestMergeFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("KERNDBG_JOBS", "many")

	err := MergeFromEnv(Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KERNDBG_JOBS")
}

func TestMergeFromEnv_NonStruct(t *testing.T) {
	var n int
	assert.NoError(t, MergeFromEnv(&n))
	assert.NoError(t, MergeFromEnv((*Config)(nil)))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"ftp server", func(c *Config) { c.SymbolServer = "ftp://example.com" }, "symbol_server"},
		{"no host", func(c *Config) { c.SymbolServer = "https://" }, "symbol_server"},
		{"empty image", func(c *Config) { c.ImageName = "  " }, "image_name"},
		{"negative limit", func(c *Config) { c.Limit = -1 }, "limit"},
		{"zero jobs", func(c *Config) { c.Jobs = 0 }, "jobs"},
		{"zero download size", func(c *Config) { c.MaxDownloadSize = 0 }, "max_download_size"},
		{"jitter", func(c *Config) { c.Retry.Jitter = 1.5 }, "retry.jitter"},
		{"release without version", func(c *Config) {
			c.Releases = append(c.Releases, catalog.Release{Codename: "Next"})
		}, "has no version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogConfig_Logging(t *testing.T) {
	lc := LogConfig{Level: "debug", Pretty: false}.Logging()
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.Pretty)
	assert.NotNil(t, lc.Output)
}
