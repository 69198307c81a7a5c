// Package cli implements the tariffcheck command: importing YAML fixtures,
// running business rule checks, approving workbaskets and inspecting the
// commodity tree and rule catalog.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"tariffcore/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	cfg    config.Config
	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of tariffcheck.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tariffcheck",
		Short: "Tariff version store and business rule checker",
		Long: `Loads tariff records into workbaskets, checks them against the TARIC
business rules and approves workbaskets whose checks pass.

Settings come from --config and TARIFFCORE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewApproveCommand(opts))
	cmd.AddCommand(NewTreeCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))

	return cmd
}

func (o *RootOptions) setup(logOut io.Writer) error {
	if !slices.Contains(ValidFormats, o.Format) {
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats)}
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "load config", Err: err}
	}
	logger, err := NewLogger(logOut, cfg.Log, o.Verbose)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "configure logging", Err: err}
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

func (o *RootOptions) output(cmd *cobra.Command) Output {
	return Output{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) open(ctx context.Context) (*App, error) {
	app, err := Open(ctx, o.cfg, o.logger)
	if err != nil {
		return nil, &ExitError{Code: ExitCommandError, Message: "open tariffcore", Err: err}
	}
	return app, nil
}

// NewLogger builds the slog logger described by cfg. Verbose forces DEBUG.
func NewLogger(w io.Writer, cfg config.Log, verbose bool) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}
