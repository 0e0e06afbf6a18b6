package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `{
  "aa11": {
    "fileInfo": {"size": 11000000, "virtualSize": 17387520, "timestamp": 1697145478, "version": "10.0.22621.2506 (WinBuild.160101.0800)"},
    "windowsVersions": {"11-22H2": {"KB5031455": {}}}
  },
  "bb22": {
    "fileInfo": {"size": 11000001, "virtualSize": 17391616, "timestamp": 1699999999, "version": "10.0.22621.10000 (WinBuild.160101.0800)"}
  },
  "cc33": {
    "fileInfo": {"size": 10000000, "virtualSize": 16000000, "timestamp": 1600000000, "version": "10.0.19045.3570 (WinBuild.160101.0800)"}
  },
  "dd44": {
    "fileInfo": {"size": 9000000, "virtualSize": 15000000, "timestamp": 1500000000, "version": "6.3.9600.20000"}
  },
  "ee55": {
    "fileInfo": {"size": 9000000, "version": "10.0.22621.1"}
  },
  "ff66": {
    "windowsVersions": {}
  },
  "0077": {
    "fileInfo": {"size": 11000000, "virtualSize": 17387520, "timestamp": 1697145478, "version": "10.0.226210.1"}
  }
}`

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(testCatalog))
	require.NoError(t, err)
	assert.Len(t, c, 7)

	rec := c["aa11"]
	require.NotNil(t, rec.FileInfo)
	assert.Equal(t, uint64(17387520), rec.FileInfo.VirtualSize)
	assert.Contains(t, rec.WindowsVersions, "11-22H2")
	assert.Nil(t, c["ff66"].FileInfo)

	_, err = Load(strings.NewReader("{"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ntoskrnl.exe.json")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, c, 7)

	_, err = LoadFile(path + ".missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSelect(t *testing.T) {
	c, err := Load(strings.NewReader(testCatalog))
	require.NoError(t, err)

	releases := []Release{
		{Codename: "Windows 11 22H2", Version: "10.0.22621"},
		{Codename: "Windows 10 22H2", Version: "10.0.19045"},
	}
	entries := c.Select(releases)

	var hashes []string
	for _, e := range entries {
		hashes = append(hashes, e.Hash)
	}
	assert.Equal(t, []string{"cc33", "aa11", "bb22"}, hashes, "ordered numerically by version")

	e := entries[1]
	assert.Equal(t, uint32(1697145478), e.Timestamp)
	assert.Equal(t, uint32(17387520), e.VirtualSize)
	assert.Equal(t, "10.0.22621.2506", e.Version)
	assert.Equal(t, "Windows 11 22H2", e.Release.Codename)

	assert.Empty(t, c.Select(nil))
}

func TestRelease_Matches(t *testing.T) {
	r := Release{Version: "10.0.22621"}
	assert.True(t, r.Matches("10.0.22621"))
	assert.True(t, r.Matches("10.0.22621.2506"))
	assert.False(t, r.Matches("10.0.226210.1"), "prefixes stop at a dot")
	assert.False(t, r.Matches("10.0.2262"))
}

func TestCoreVersion(t *testing.T) {
	assert.Equal(t, "10.0.22621.2506", CoreVersion("10.0.22621.2506 (WinBuild.160101.0800)"))
	assert.Equal(t, "6.3.9600.20000", CoreVersion("6.3.9600.20000"))
	assert.Equal(t, "unknown", CoreVersion("  "))
}

func TestCompareVersions(t *testing.T) {
	assert.Negative(t, compareVersions("10.0.22621.2506", "10.0.22621.10000"))
	assert.Positive(t, compareVersions("10.0.22621.1", "10.0.19045.9999"))
	assert.Zero(t, compareVersions("10.0.1", "10.0.1"))
	assert.Negative(t, compareVersions("10.0", "10.0.1"))
}

func TestDefaultReleases(t *testing.T) {
	for _, r := range DefaultReleases() {
		assert.NotEmpty(t, r.Codename)
		assert.True(t, strings.HasPrefix(r.Version, "10.0."))
	}
}
