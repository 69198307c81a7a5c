package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tariffcore/internal/rulerun"
	"tariffcore/pkg/domain"
)

// CheckSummary is the printable outcome of one transaction check.
type CheckSummary struct {
	WorkbasketID  int64    `json:"workbasket_id"`
	TransactionID int64    `json:"transaction_id"`
	RunID         string   `json:"run_id"`
	Successful    bool     `json:"successful"`
	Verdicts      int      `json:"verdicts"`
	Failures      []string `json:"failures,omitempty"`
	ArchiveKey    string   `json:"archive_key,omitempty"`
}

func summarize(reports []rulerun.Report) ([]CheckSummary, bool) {
	out := make([]CheckSummary, 0, len(reports))
	ok := true
	for _, r := range reports {
		s := CheckSummary{
			WorkbasketID:  r.WorkbasketID,
			TransactionID: r.TransactionID,
			RunID:         r.RunID,
			Successful:    r.Check.Successful,
			Verdicts:      len(r.Verdicts),
			ArchiveKey:    r.ArchiveKey,
		}
		for _, v := range r.Failures() {
			s.Failures = append(s.Failures, fmt.Sprintf("%s %s %s: %s", v.Record, v.Rule, v.Status, v.Message))
		}
		ok = ok && s.Successful
		out = append(out, s)
	}
	return out, ok
}

func printSummaries(w io.Writer, summaries []CheckSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "nothing to check")
		return
	}
	for _, s := range summaries {
		result := "PASS"
		if !s.Successful {
			result = "FAIL"
		}
		fmt.Fprintf(w, "workbasket %d transaction %d: %s (%d verdicts, run %s)\n", s.WorkbasketID, s.TransactionID, result, s.Verdicts, s.RunID)
		for _, f := range s.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}

type checkOptions struct {
	workbasket      int64
	includeArchived bool
	statuses        []string
	metricsFile     string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var opts checkOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run business rules over transactions that changed since their last check",
		Long: `Runs the rule catalog over every transaction whose last check is missing
or stale, records the verdicts and archives a JSON report per run.

Exits 1 when any transaction check is unsuccessful.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), rootOpts, opts, cmd)
		},
	}
	cmd.Flags().Int64Var(&opts.workbasket, "workbasket", 0, "only check this workbasket")
	cmd.Flags().BoolVar(&opts.includeArchived, "include-archived", false, "also check archived workbaskets")
	cmd.Flags().StringSliceVar(&opts.statuses, "status", nil, "only check workbaskets in these statuses")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics to this file")
	return cmd
}

func runCheck(ctx context.Context, rootOpts *RootOptions, opts checkOptions, cmd *cobra.Command) error {
	filter := rulerun.Filter{WorkbasketID: opts.workbasket, IncludeArchived: opts.includeArchived}
	for _, s := range opts.statuses {
		filter.Statuses = append(filter.Statuses, domain.WorkbasketStatus(strings.ToUpper(s)))
	}
	app, err := rootOpts.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	pending, err := app.Checker.RequiresUpdate(ctx, filter)
	if err != nil {
		return err
	}
	reports := make([]rulerun.Report, 0, len(pending))
	for _, tx := range pending {
		report, err := app.Checker.Run(ctx, tx.ID)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}
	if opts.metricsFile != "" {
		if err := app.WriteMetrics(opts.metricsFile); err != nil {
			return err
		}
	}
	return emitChecks(rootOpts.output(cmd), reports)
}

func emitChecks(out Output, reports []rulerun.Report) error {
	summaries, ok := summarize(reports)
	if err := out.Emit(ok, summaries, func(w io.Writer) { printSummaries(w, summaries) }); err != nil {
		return err
	}
	if !ok {
		failed := 0
		for _, s := range summaries {
			if !s.Successful {
				failed++
			}
		}
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d transaction checks failed", failed, len(summaries))}
	}
	return nil
}
