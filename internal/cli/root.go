// Package cli implements the kerndbg command line.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jtang613/kerndbg/internal/config"
	"github.com/jtang613/kerndbg/internal/logging"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logPretty  bool
}

// NewRootCmd builds the kerndbg command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kerndbg",
		Short: "Resolve Windows kernel symbols and structure offsets from PDB files",
		Long: `kerndbg decodes Microsoft PDB files and resolves kernel symbol addresses
and structure field offsets from them.

It can dump a PDB as JSON, resolve individual names, render a report of a
fixed catalogue of kernel symbols and fields, and fetch kernel images and
their PDBs from a symbol server for every build listed in a catalog.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml or .toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", false, "Human readable console logs")

	cmd.AddCommand(newDumpCmd(opts))
	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newReportCmd(opts))
	cmd.AddCommand(newFetchCmd(opts))
	cmd.AddCommand(newAggregateCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// load reads the configuration and builds the logger, applying flag
// overrides on top of the file and environment.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-pretty") {
		cfg.Log.Pretty = o.logPretty
	}

	logCfg := cfg.Log.Logging()
	logCfg.Output = cmd.ErrOrStderr()
	return cfg, logging.NewWithComponent(logCfg, cmd.Name()), nil
}
