package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kerrors "github.com/jtang613/kerndbg/internal/errors"
	"github.com/jtang613/kerndbg/internal/report"
	"github.com/jtang613/kerndbg/pkg/pdb"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var (
		base    uint64
		outPath string
		header  string
	)

	cmd := &cobra.Command{
		Use:   "report <pdb-file>",
		Short: "Render the configured catalogue of symbols and fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("base") {
				base = cfg.Base
			}

			store, err := pdb.LoadFile(args[0], pdb.WithLogger(logger))
			if err != nil {
				return err
			}
			r := report.Generate(store, base, cfg.Catalogue)
			r.Header = header
			if r.Unresolved > 0 {
				logger.Warn().Int("unresolved", r.Unresolved).Msg("Report has unresolved entries")
			}

			if outPath == "" {
				_, err = r.WriteTo(cmd.OutOrStdout())
				return err
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if _, err := r.WriteTo(f); err != nil {
				kerrors.DeferClose(logger, f, "failed to close report")
				return fmt.Errorf("failed to write report: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close report: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint64Var(&base, "base", 0, "Module base address (defaults to the configured base)")
	flags.StringVarP(&outPath, "out", "o", "", "Output file (defaults to stdout)")
	flags.StringVar(&header, "header", "", "First line of the report, e.g. \"Windows 11 23H2 - 10.0.22631.2506\"")
	return cmd
}
