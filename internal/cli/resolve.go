package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jtang613/kerndbg/pkg/pdb"
)

func newResolveCmd(root *rootOptions) *cobra.Command {
	var base uint64

	cmd := &cobra.Command{
		Use:   "resolve <pdb-file> <name|Type.field.path>...",
		Short: "Resolve symbol addresses and field offsets",
		Long: `Resolve prints one line per query. A query containing a dot is a field
path rooted at a type name, anything else is a symbol name. Addresses are
relative to --base, which defaults to the configured base.`,
		Example: `  kerndbg resolve ntkrnlmp.pdb PsActiveProcessHead
  kerndbg resolve --base 0xfffff80000000000 ntkrnlmp.pdb _KPRCB.CurrentThread`,
		Args: cobra.MinimumNArgs(2),
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
			if n := runResolve(cmd.OutOrStdout(), store, base, args[1:]); n > 0 {
				return fmt.Errorf("%d of %d queries unresolved", n, len(args)-1)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&base, "base", 0, "Module base address (defaults to the configured base)")
	return cmd
}

// runResolve writes one line per query and returns the number of failures.
func runResolve(w io.Writer, store *pdb.Store, base uint64, queries []string) int {
	failed := 0
	red := color.New(color.FgRed)
	for _, q := range queries {
		var addr uint64
		var err error
		if strings.Contains(q, ".") {
			addr, err = pdb.ResolveFieldPath(store, base, q)
		} else {
			addr, err = pdb.ResolveSymbol(store, base, q)
		}
		if err != nil {
			failed++
			_, _ = red.Fprintf(w, "%s @ <unresolved: %v>\n", q, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s @ 0x%x\n", q, addr)
	}
	return failed
}
