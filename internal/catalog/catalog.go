// Package catalog reads a winbindex-style file database and selects the
// kernel builds whose debug information should be fetched.
package catalog

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"fortio.org/safecast"
)

// FileInfo describes one build of the image.
type FileInfo struct {
	Size        uint64 `json:"size"`
	VirtualSize uint64 `json:"virtualSize"`
	Timestamp   uint64 `json:"timestamp"`
	Version     string `json:"version"` // e.g. "10.0.22621.2506 (WinBuild.160101.0800)"
}

// Record is the catalog entry for one content hash. Only the file info is
// decoded; the per-OS update map is kept raw.
type Record struct {
	FileInfo        *FileInfo                  `json:"fileInfo"`
	WindowsVersions map[string]json.RawMessage `json:"windowsVersions"`
}

// Catalog maps a SHA-256 content hash to its record.
type Catalog map[string]Record

// Load decodes a catalog from r.
func Load(r io.Reader) (Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return c, nil
}

// LoadFile decodes the catalog stored at path.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Release is an operating system release selected by version prefix.
type Release struct {
	Codename string `json:"codename" yaml:"codename" toml:"codename"`
	Version  string `json:"version" yaml:"version" toml:"version"`
}

// DefaultReleases returns the releases processed when none are configured.
func DefaultReleases() []Release {
	return []Release{
		{Codename: "Windows 11 24H2", Version: "10.0.26100"},
		{Codename: "Windows 11 23H2", Version: "10.0.22631"},
		{Codename: "Windows 11 22H2", Version: "10.0.22621"},
		{Codename: "Windows 11 21H2", Version: "10.0.22000"},
		{Codename: "Windows 10 22H2", Version: "10.0.19045"},
	}
}

// Matches reports whether a core version number belongs to the release.
func (r Release) Matches(version string) bool {
	return version == r.Version || strings.HasPrefix(version, r.Version+".")
}

// CoreVersion returns the dotted version number without the build label.
func CoreVersion(version string) string {
	fields := strings.Fields(version)
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}

// Entry is a catalog record selected for processing.
type Entry struct {
	Hash        string
	Timestamp   uint32
	Size        uint64
	VirtualSize uint32
	Version     string // core version, e.g. "10.0.22621.2506"
	Release     Release
}

// Select returns the entries that belong to one of the releases, sorted by
// version then hash. Entries without a timestamp or virtual size cannot be
// fetched from a symbol server and are skipped.
func (c Catalog) Select(releases []Release) []Entry {
	var out []Entry
	for hash, rec := range c {
		if rec.FileInfo == nil {
			continue
		}
		ts, err := safecast.Conv[uint32](rec.FileInfo.Timestamp)
		if err != nil || ts == 0 {
			continue
		}
		vsize, err := safecast.Conv[uint32](rec.FileInfo.VirtualSize)
		if err != nil || vsize == 0 {
			continue
		}

		version := CoreVersion(rec.FileInfo.Version)
		idx := slices.IndexFunc(releases, func(r Release) bool { return r.Matches(version) })
		if idx < 0 {
			continue
		}

		out = append(out, Entry{
			Hash:        hash,
			Timestamp:   ts,
			Size:        rec.FileInfo.Size,
			VirtualSize: vsize,
			Version:     version,
			Release:     releases[idx],
		})
	}

	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Or(compareVersions(a.Version, b.Version), strings.Compare(a.Hash, b.Hash))
	})
	return out
}

// compareVersions orders dotted versions numerically where possible.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if len(as[i]) != len(bs[i]) {
			return cmp.Compare(len(as[i]), len(bs[i]))
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(as), len(bs))
}
