// Package pipeline downloads kernel images and their PDBs for a set of
// catalog entries and writes one address report per build.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	kerrors "github.com/jtang613/kerndbg/internal/errors"
	"github.com/jtang613/kerndbg/internal/catalog"
	"github.com/jtang613/kerndbg/internal/report"
	"github.com/jtang613/kerndbg/internal/symsrv"
	"github.com/jtang613/kerndbg/pkg/pdb"
)

// ErrIdentityMismatch is returned when a downloaded PDB does not carry the
// GUID and age the image's debug directory asked for.
var ErrIdentityMismatch = errors.New("pdb identity does not match image")

// Downloader fetches a URL into a local file.
type Downloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Options configures a pipeline run.
type Options struct {
	Catalog   catalog.Catalog
	Releases  []catalog.Release
	Catalogue report.Catalogue

	Server    string
	ImageName string
	OutputDir string
	Base      uint64

	// Limit caps the number of entries processed; 0 means all.
	Limit int
	Jobs  int

	Downloader Downloader
	// Cache is optional; a nil cache disables report reuse.
	Cache  *report.Cache
	Logger zerolog.Logger
}

// Summary counts the outcome of a run.
type Summary struct {
	Selected int
	Written  int
	Cached   int
	Failed   int
	// Skipped counts entries not tried because an earlier build of the
	// same version already produced the report.
	Skipped int
}

// Run processes the selected catalog entries. Entries sharing a version
// write to the same directory, so they form one group tried in selection
// order until one succeeds; groups run concurrently. Failures of a single
// entry are logged and counted; only cancellation ends the run early.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Downloader == nil {
		return Summary{}, fmt.Errorf("no downloader configured")
	}

	entries := opts.Catalog.Select(opts.Releases)
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	opts.Logger.Info().
		Int("entries", len(entries)).
		Int("jobs", opts.Jobs).
		Msg("Processing catalog entries")

	var written, cached, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Jobs, 1))
	for _, group := range groupByVersion(entries) {
		g.Go(func() error {
			for i, entry := range group {
				hit, err := processEntry(gctx, opts, entry)
				switch {
				case err != nil && gctx.Err() != nil:
					return gctx.Err()
				case err != nil:
					failed.Add(1)
					opts.Logger.Warn().
						Err(err).
						Str("hash", entry.Hash).
						Str("version", entry.Version).
						Msg("Skipping entry")
					continue
				case hit:
					cached.Add(1)
				default:
					written.Add(1)
				}
				skipped.Add(int64(len(group) - i - 1))
				return nil
			}
			return nil
		})
	}

	err := g.Wait()
	sum := Summary{
		Selected: len(entries),
		Written:  int(written.Load()),
		Cached:   int(cached.Load()),
		Failed:   int(failed.Load()),
		Skipped:  int(skipped.Load()),
	}
	if err != nil {
		return sum, fmt.Errorf("pipeline interrupted: %w", err)
	}
	return sum, nil
}

// groupByVersion splits entries into runs of equal version. Select sorts
// by version, so each version forms one run in hash order.
func groupByVersion(entries []catalog.Entry) [][]catalog.Entry {
	var groups [][]catalog.Entry
	for i, entry := range entries {
		if i > 0 && entries[i-1].Version == entry.Version {
			groups[len(groups)-1] = append(groups[len(groups)-1], entry)
			continue
		}
		groups = append(groups, []catalog.Entry{entry})
	}
	return groups
}

// processEntry produces <out>/<version>/info.txt for one entry and reports
// whether the report came from the cache.
func processEntry(ctx context.Context, opts Options, entry catalog.Entry) (bool, error) {
	logger := opts.Logger.With().Str("version", entry.Version).Logger()
	dir := filepath.Join(opts.OutputDir, entry.Version)
	fileID := symsrv.FileID(entry.Timestamp, entry.VirtualSize)
	key := report.CacheKey(fileID, opts.Catalogue, opts.Base)
	header := report.Header(entry.Release.Codename, entry.Version)

	r, hit, err := opts.Cache.Get(key)
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring unreadable cache entry")
	}
	if hit {
		r.Header = header
		return true, writeReport(dir, r, logger)
	}

	imagePath := filepath.Join(dir, opts.ImageName)
	imageURL := symsrv.ImageURL(opts.Server, opts.ImageName, entry.Timestamp, entry.VirtualSize)
	if err := opts.Downloader.Download(ctx, imageURL, imagePath); err != nil {
		return false, err
	}

	dbg, err := symsrv.ReadDebugInfo(imagePath)
	if err != nil {
		return false, err
	}

	pdbPath := filepath.Join(dir, dbg.PDBName)
	if err := opts.Downloader.Download(ctx, symsrv.PDBURL(opts.Server, dbg), pdbPath); err != nil {
		return false, err
	}

	store, err := pdb.LoadFile(pdbPath, pdb.WithLogger(logger))
	if err != nil {
		return false, fmt.Errorf("failed to load %s: %w", pdbPath, err)
	}
	if err := verifyIdentity(store.Info(), dbg); err != nil {
		return false, err
	}

	r = report.Generate(store, opts.Base, opts.Catalogue)
	if r.Unresolved > 0 {
		logger.Debug().Int("unresolved", r.Unresolved).Msg("Report has unresolved entries")
	}
	if err := opts.Cache.Put(key, r); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache report")
	}

	r.Header = header
	return false, writeReport(dir, r, logger)
}

func verifyIdentity(info pdb.Info, dbg symsrv.DebugInfo) error {
	if info.GUID != dbg.GUID || info.Age != dbg.Age {
		return fmt.Errorf("%w: image wants %s, pdb is %s",
			ErrIdentityMismatch, dbg.ID(), info.GUIDString()+fmt.Sprintf("%X", info.Age))
	}
	return nil
}

func writeReport(dir string, r report.Report, logger zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, report.InfoFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if _, err := r.WriteTo(f); err != nil {
		kerrors.DeferClose(logger, f, "failed to close report")
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	logger.Info().Str("path", path).Msg("Wrote report")
	return nil
}
