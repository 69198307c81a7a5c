package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"tariffcore/pkg/domain"
)

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "approve <workbasket-id>",
		Short: "Submit and approve a workbasket whose checks pass",
		Long: `Submits the workbasket when it is still in progress, then approves it.
Approval is refused while any transaction has a FAIL verdict, an unexplained
SKIPPED verdict, or no up-to-date check. Exits 1 when blocked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid workbasket id " + args[0]}
			}
			app, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return approveWorkbasket(cmd.Context(), app, rootOpts.output(cmd), id, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check stale transactions first")
	return cmd
}

// ApproveResult is the outcome of an approval attempt.
type ApproveResult struct {
	Workbasket domain.Workbasket `json:"workbasket"`
	Blockers   []domain.Blocker  `json:"blockers,omitempty"`
}

func approveWorkbasket(ctx context.Context, app *App, out Output, id int64, check bool) error {
	wb, ok := app.Store.GetWorkbasket(id)
	if !ok {
		return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("workbasket %d not found", id)}
	}
	if check {
		if _, err := app.Checker.RunWorkbasket(ctx, id); err != nil {
			return err
		}
	}
	if wb.Status == domain.StatusNewInProgress {
		var err error
		if wb, err = app.Service.Submit(ctx, id); err != nil {
			return err
		}
	}
	approved, err := app.Service.Approve(ctx, id)
	var blocked *domain.ApprovalBlockedError
	switch {
	case errors.As(err, &blocked):
		res := ApproveResult{Workbasket: wb, Blockers: blocked.Blockers}
		if err := out.Emit(false, res, func(w io.Writer) {
			fmt.Fprintf(w, "workbasket %d blocked (%s):\n", id, wb.Status)
			for _, b := range blocked.Blockers {
				fmt.Fprintf(w, "  %s\n", b)
			}
		}); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("workbasket %d has %d blockers", id, len(blocked.Blockers))}
	case err != nil:
		return err
	}
	return out.Emit(true, ApproveResult{Workbasket: approved}, func(w io.Writer) {
		fmt.Fprintf(w, "workbasket %d %s\n", approved.ID, approved.Status)
	})
}
