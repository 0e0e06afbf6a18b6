package report

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// InfoFile is the file name reports are written to inside a version directory.
const InfoFile = "info.txt"

// VersionSummary merges the reports of all builds sharing a version prefix
// (the version without its last component).
type VersionSummary struct {
	OS      string              `json:"os"`
	Builds  []string            `json:"builds"`
	Symbols map[string][]string `json:"symbols"`
	Structs map[string][]string `json:"structs"`
}

// ParsedReport is a report read back from its text form.
type ParsedReport struct {
	OS      string
	Version string
	Symbols map[string]uint64
	Fields  map[string]uint64
}

// Parse reads a report written by WriteTo with a header. Unresolved lines
// are skipped.
func Parse(r io.Reader) (ParsedReport, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return ParsedReport{}, err
		}
		return ParsedReport{}, fmt.Errorf("empty report")
	}
	osName, version, ok := strings.Cut(strings.TrimSpace(sc.Text()), " - ")
	if !ok {
		return ParsedReport{}, fmt.Errorf("malformed report header %q", sc.Text())
	}

	p := ParsedReport{
		OS:      osName,
		Version: version,
		Symbols: make(map[string]uint64),
		Fields:  make(map[string]uint64),
	}
	for sc.Scan() {
		path, addr, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		if strings.Contains(path, ".") {
			p.Fields[path] = addr
		} else {
			p.Symbols[path] = addr
		}
	}
	return p, sc.Err()
}

// ParseLine parses "<path> @ 0x<hex>".
func ParseLine(line string) (string, uint64, bool) {
	path, value, ok := strings.Cut(strings.TrimSpace(line), " @ ")
	if !ok {
		return "", 0, false
	}
	hex, ok := strings.CutPrefix(value, "0x")
	if !ok {
		return "", 0, false
	}
	addr, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return "", 0, false
	}
	return path, addr, true
}

// Aggregate walks root for report files and merges them by version
// prefix. Each name keeps its distinct addresses in first-seen order.
// Unreadable or malformed reports are logged and skipped; the second
// result counts them.
func Aggregate(root string, logger zerolog.Logger) (map[string]*VersionSummary, int, error) {
	out := make(map[string]*VersionSummary)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == InfoFile {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	slices.Sort(files)

	skipped := 0
	for _, path := range files {
		p, err := parseFile(path)
		if err != nil {
			skipped++
			logger.Warn().Err(err).Str("path", path).Msg("Skipping malformed report")
			continue
		}

		prefix, build := splitVersion(p.Version)
		sum, ok := out[prefix]
		if !ok {
			sum = &VersionSummary{
				OS:      p.OS,
				Symbols: make(map[string][]string),
				Structs: make(map[string][]string),
			}
			out[prefix] = sum
		}
		sum.Builds = append(sum.Builds, build)
		merge(sum.Symbols, p.Symbols)
		merge(sum.Structs, p.Fields)
	}
	return out, skipped, nil
}

func parseFile(path string) (ParsedReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParsedReport{}, err
	}
	return Parse(bytes.NewReader(data))
}

// splitVersion splits "10.0.22621.2506" into "10.0.22621" and "2506".
func splitVersion(version string) (string, string) {
	i := strings.LastIndexByte(version, '.')
	if i < 0 {
		return "", version
	}
	return version[:i], version[i+1:]
}

func merge(dst map[string][]string, src map[string]uint64) {
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		hex := fmt.Sprintf("0x%x", src[name])
		if !slices.Contains(dst[name], hex) {
			dst[name] = append(dst[name], hex)
		}
	}
}
