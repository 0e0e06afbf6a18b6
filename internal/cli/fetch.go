package cli

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jtang613/kerndbg/internal/catalog"
	"github.com/jtang613/kerndbg/internal/pipeline"
	"github.com/jtang613/kerndbg/internal/report"
	"github.com/jtang613/kerndbg/internal/symsrv"
)

func newFetchCmd(root *rootOptions) *cobra.Command {
	var (
		catalogPath string
		outDir      string
		limit       int
		jobs        int
		noCache     bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download kernel images and PDBs and write a report per build",
		Long: `Fetch selects the catalog entries of the configured releases, downloads
each kernel image and its PDB from the symbol server and writes
<out>/<version>/info.txt. Failed entries are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("catalog") {
				cfg.CatalogPath = catalogPath
			}
			if flags.Changed("out") {
				cfg.OutputDir = outDir
			}
			if flags.Changed("limit") {
				cfg.Limit = limit
			}
			if flags.Changed("jobs") {
				cfg.Jobs = jobs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cat, err := catalog.LoadFile(cfg.CatalogPath)
			if err != nil {
				return err
			}

			client := symsrv.NewClient(
				symsrv.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
				symsrv.WithRetry(cfg.Retry),
				symsrv.WithMaxSize(cfg.MaxDownloadSize),
				symsrv.WithLogger(logger),
			)
			var cache *report.Cache
			if !noCache && cfg.CacheDir != "" {
				cache = report.NewCache(cfg.CacheDir, logger)
			}

			sum, err := pipeline.Run(cmd.Context(), pipeline.Options{
				Catalog:    cat,
				Releases:   cfg.Releases,
				Catalogue:  cfg.Catalogue,
				Server:     cfg.SymbolServer,
				ImageName:  cfg.ImageName,
				OutputDir:  cfg.OutputDir,
				Base:       cfg.Base,
				Limit:      cfg.Limit,
				Jobs:       cfg.Jobs,
				Downloader: client,
				Cache:      cache,
				Logger:     logger,
			})
			logger.Info().
				Int("selected", sum.Selected).
				Int("written", sum.Written).
				Int("cached", sum.Cached).
				Int("failed", sum.Failed).
				Int("skipped", sum.Skipped).
				Msg("Fetch finished")
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&catalogPath, "catalog", "", "Catalog JSON file (hash -> fileInfo)")
	flags.StringVarP(&outDir, "out", "o", "", "Output directory")
	flags.IntVar(&limit, "limit", 0, "Maximum number of entries to process (0 = all)")
	flags.IntVarP(&jobs, "jobs", "j", 0, "Number of entries processed concurrently")
	flags.BoolVar(&noCache, "no-cache", false, "Do not read or write the report cache")
	return cmd
}
