package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kerrors "github.com/jtang613/kerndbg/internal/errors"
	"github.com/jtang613/kerndbg/internal/report"
)

func newAggregateCmd(root *rootOptions) *cobra.Command {
	var (
		rootDir string
		outPath string
		pretty  bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Merge written reports by version prefix into JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if rootDir == "" {
				rootDir = cfg.OutputDir
			}

			summaries, skipped, err := report.Aggregate(rootDir, logger)
			if err != nil {
				return err
			}
			logger.Debug().
				Int("versions", len(summaries)).
				Int("skipped", skipped).
				Msg("Aggregated reports")

			if outPath == "" {
				return writeJSON(cmd.OutOrStdout(), summaries, pretty)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := writeJSON(f, summaries, pretty); err != nil {
				kerrors.DeferClose(logger, f, "failed to close aggregate output")
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to close aggregate output: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&rootDir, "root", "", "Directory holding <version>/info.txt reports (defaults to the output directory)")
	flags.StringVarP(&outPath, "out", "o", "", "Output file (defaults to stdout)")
	flags.BoolVar(&pretty, "pretty", true, "Pretty-print JSON output")
	return cmd
}
