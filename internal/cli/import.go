package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type importOptions struct {
	check   bool
	approve bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Load a YAML fixture into a new workbasket",
		Long: `Creates a workbasket and writes each fixture transaction as one atomic
batch. With --check the new transactions are checked; with --approve the
workbasket is submitted and approved when its checks pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.check, "check", false, "check the imported transactions")
	cmd.Flags().BoolVar(&opts.approve, "approve", false, "check, submit and approve the workbasket")
	return cmd
}

func runImport(ctx context.Context, rootOpts *RootOptions, opts importOptions, path string, cmd *cobra.Command) error {
	file, err := os.Open(path)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "open fixture", Err: err}
	}
	defer func() { _ = file.Close() }()
	fixture, err := LoadFixture(file)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: path, Err: err}
	}

	app, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	res, err := ApplyFixture(ctx, app.Service, fixture)
	if err != nil {
		return &ExitError{Code: ExitFailure, Message: "import rejected", Err: err}
	}
	out := rootOpts.output(cmd)
	if err := out.Emit(true, res, func(w io.Writer) {
		fmt.Fprintf(w, "workbasket %d: %d transactions, %d versions\n", res.WorkbasketID, len(res.Transactions), res.Versions)
	}); err != nil {
		return err
	}

	switch {
	case opts.approve:
		return approveWorkbasket(ctx, app, out, res.WorkbasketID, true)
	case opts.check:
		reports, err := app.Checker.RunWorkbasket(ctx, res.WorkbasketID)
		if err != nil {
			return err
		}
		return emitChecks(out, reports)
	}
	return nil
}
