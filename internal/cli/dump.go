package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jtang613/kerndbg/pkg/pdb"
	"github.com/jtang613/kerndbg/pkg/pdb/codeview"
	"github.com/jtang613/kerndbg/pkg/pdb/pdberr"
)

type dumpOptions struct {
	info        bool
	symbols     bool
	types       bool
	sections    bool
	diagnostics bool
	all         bool
	pretty      bool
	typeIndex   string
}

func newDumpCmd(root *rootOptions) *cobra.Command {
	opts := &dumpOptions{}

	cmd := &cobra.Command{
		Use:   "dump <pdb-file>",
		Short: "Dump PDB contents as JSON",
		Example: `  kerndbg dump --info ntkrnlmp.pdb
  kerndbg dump --symbols --pretty ntkrnlmp.pdb
  kerndbg dump --all ntkrnlmp.pdb
  kerndbg dump --type 0x1000 ntkrnlmp.pdb`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			store, err := pdb.LoadFile(args[0], pdb.WithLogger(logger))
			if err != nil {
				return err
			}
			return runDump(cmd.OutOrStdout(), store, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.info, "info", false, "Show PDB file information")
	flags.BoolVar(&opts.symbols, "symbols", false, "List all symbols")
	flags.BoolVar(&opts.types, "types", false, "List all named types")
	flags.BoolVar(&opts.sections, "sections", false, "List section headers")
	flags.BoolVar(&opts.diagnostics, "diagnostics", false, "List build diagnostics")
	flags.BoolVar(&opts.all, "all", false, "Show all information")
	flags.BoolVar(&opts.pretty, "pretty", false, "Pretty-print JSON output")
	flags.StringVar(&opts.typeIndex, "type", "", "Show details for a specific type index")

	return cmd
}

func runDump(w io.Writer, store *pdb.Store, opts *dumpOptions) error {
	if opts.typeIndex != "" {
		n, err := strconv.ParseUint(opts.typeIndex, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid type index %q: %w", opts.typeIndex, err)
		}
		ti, ok := store.DescribeType(codeview.TypeIndex(n))
		if !ok {
			return fmt.Errorf("type 0x%x: %w", n, pdberr.ErrNotFound)
		}
		return writeJSON(w, ti, opts.pretty)
	}

	// Default to showing info if no flags specified
	if !opts.info && !opts.symbols && !opts.types && !opts.sections && !opts.diagnostics && !opts.all {
		opts.info = true
	}

	result := make(map[string]any)
	if opts.info || opts.all {
		result["info"] = store.Summary()
	}
	if opts.symbols || opts.all {
		var symbols []pdb.SymbolInfo
		for sym := range store.Symbols() {
			symbols = append(symbols, store.DescribeSymbol(sym))
		}
		result["symbols"] = symbols
	}
	if opts.types || opts.all {
		result["types"] = store.NamedTypes()
	}
	if opts.sections || opts.all {
		result["sections"] = store.SectionList()
	}
	if opts.diagnostics || opts.all {
		result["diagnostics"] = store.Diagnostics()
	}
	return writeJSON(w, result, opts.pretty)
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false) // Don't escape &, <, > in C++ names
	if pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
