// Package rulerun orchestrates business rule runs over transactions: it finds
// transactions whose last check is missing or stale, evaluates every version
// they touched, records verdicts, archives a JSON report per run and answers
// whether a workbasket may be approved.
package rulerun

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	blobcore "tariffcore/internal/blob/core"
	"tariffcore/internal/core"
	"tariffcore/pkg/domain"
)

// DefaultWorkers bounds concurrent transaction checks in RunWorkbasket.
const DefaultWorkers = 4

// ReportPrefix is the archive prefix of rule-run reports.
const ReportPrefix = "rule-runs"

// Checker runs the rule registry over transactions of a version store.
type Checker struct {
	store    domain.PersistentStore
	registry *core.Registry
	archive  blobcore.Store
	metrics  *Metrics
	logger   *slog.Logger
	workers  int
	now      func() time.Time
	newRunID func() string
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the checker logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithArchive writes a JSON report of every run to archive.
func WithArchive(archive blobcore.Store) Option {
	return func(c *Checker) { c.archive = archive }
}

// WithMetrics records verdict and check metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) { c.metrics = m }
}

// WithWorkers bounds concurrent transaction checks. Values below one are
// ignored.
func WithWorkers(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithClock overrides the time source for verdict timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(c *Checker) {
		if next != nil {
			c.newRunID = next
		}
	}
}

// NewChecker constructs a checker evaluating registry against store.
func NewChecker(store domain.PersistentStore, registry *core.Registry, opts ...Option) *Checker {
	c := &Checker{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		workers:  DefaultWorkers,
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Filter narrows RequiresUpdate. Zero values match everything except
// archived workbaskets.
type Filter struct {
	// Statuses keeps only workbaskets in one of the listed statuses.
	Statuses []domain.WorkbasketStatus
	// IncludeArchived admits ARCHIVED workbaskets.
	IncludeArchived bool
	// WorkbasketID restricts the query to one workbasket.
	WorkbasketID int64
}

func (f Filter) admits(wb domain.Workbasket) bool {
	if f.WorkbasketID != 0 && wb.ID != f.WorkbasketID {
		return false
	}
	if wb.Status == domain.StatusArchived && !f.IncludeArchived {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == wb.Status {
			return true
		}
	}
	return false
}

// RequiresUpdate returns the transactions whose last check is missing,
// incomplete or stale, ordered by workbasket then transaction order.
func (c *Checker) RequiresUpdate(ctx context.Context, filter Filter) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, wb := range c.store.ListWorkbaskets() {
		if !filter.admits(wb) {
			continue
		}
		for _, tx := range c.store.ListTransactions(wb.ID) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			check, ok := c.store.LatestCheck(tx.ID)
			if !ok {
				out = append(out, tx)
				continue
			}
			stale, err := c.stale(ctx, tx, check)
			if err != nil {
				return nil, err
			}
			if stale {
				out = append(out, tx)
			}
		}
	}
	return out, nil
}

// fingerprint captures what a check was computed against.
type fingerprint struct {
	head          int64
	versionCount  int
	latestVersion int64
}

func (c *Checker) fingerprint(view domain.RuleView, tx domain.Transaction) fingerprint {
	fp := fingerprint{}
	if head, ok := c.store.PublishedHead(); ok {
		fp.head = head.ID
	}
	for _, v := range view.TransactionVersions(tx.ID) {
		fp.versionCount++
		if v.ID > fp.latestVersion {
			fp.latestVersion = v.ID
		}
	}
	return fp
}

// stale reports whether the transaction changed since check. The published
// head only matters while the transaction is still a draft.
func (c *Checker) stale(ctx context.Context, tx domain.Transaction, check domain.TransactionCheck) (bool, error) {
	if !check.Completed {
		return true, nil
	}
	view, err := c.store.View(ctx, tx.ID)
	if err != nil {
		return false, err
	}
	fp := c.fingerprint(view, tx)
	if fp.versionCount != check.VersionCount || fp.latestVersion != check.LatestVersionID {
		return true, nil
	}
	return tx.Partition == domain.PartitionDraft && fp.head != check.HeadTransactionID, nil
}

// Report is the archived record of one transaction check.
type Report struct {
	RunID         string                  `json:"run_id"`
	WorkbasketID  int64                   `json:"workbasket_id"`
	TransactionID int64                   `json:"transaction_id"`
	Check         domain.TransactionCheck `json:"check"`
	Verdicts      []domain.Verdict        `json:"verdicts"`
	Duration      time.Duration           `json:"duration_ns"`
	// ArchiveKey is empty when no archive is configured.
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Failures returns the verdicts that make the check unsuccessful.
func (r Report) Failures() []domain.Verdict {
	var out []domain.Verdict
	for _, v := range r.Verdicts {
		if !passing(v.Status) {
			out = append(out, v)
		}
	}
	return out
}

func passing(s domain.VerdictStatus) bool {
	return s == domain.VerdictPass || s == domain.VerdictWarning
}

// ReportKey is the archive key of a run's report.
func ReportKey(workbasketID, transactionID int64, runID string) string {
	return ReportPrefix + "/" + strconv.FormatInt(workbasketID, 10) + "/" + strconv.FormatInt(transactionID, 10) + "/" + runID + ".json"
}

// Run evaluates every record the transaction touched and records the check.
// A record whose group was written more than once by the transaction is
// checked at its latest version. Nothing is written when evaluation fails.
func (c *Checker) Run(ctx context.Context, transactionID int64) (Report, error) {
	start := time.Now()
	report, err := c.run(ctx, transactionID)
	c.metrics.ObserveCheckLatency(time.Since(start))
	if err != nil {
		c.metrics.IncrementCheck("error")
		return Report{}, err
	}
	report.Duration = time.Since(start)
	return report, nil
}

func (c *Checker) run(ctx context.Context, transactionID int64) (Report, error) {
	tx, ok := c.store.GetTransaction(transactionID)
	if !ok {
		return Report{}, domain.NotFoundError{Entity: "transaction", ID: strconv.FormatInt(transactionID, 10)}
	}
	view, err := c.store.View(ctx, tx.ID)
	if err != nil {
		return Report{}, err
	}
	runID := c.newRunID()
	logger := c.logger.With("workbasket_id", tx.WorkbasketID, "transaction_id", tx.ID, "run_id", runID)
	fp := c.fingerprint(view, tx)

	latest := make(map[domain.Identity]domain.Version)
	for _, v := range view.TransactionVersions(tx.ID) {
		if prev, ok := latest[v.Identity]; !ok || v.ID > prev.ID {
			latest[v.Identity] = v
		}
	}
	versions := make([]domain.Version, 0, len(latest))
	for _, v := range latest {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })

	now := c.now()
	successful := true
	var verdicts []domain.Verdict
	for _, v := range versions {
		outcomes, err := c.registry.Evaluate(ctx, view, v)
		if err != nil {
			return Report{}, err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				logger.Warn("hierarchy inconsistency", "record", v.Identity.String(), "rule", o.Rule, "error", o.Err)
			}
			for _, violation := range o.Violations {
				logger.Debug("rule violation", "record", v.Identity.String(), "rule", o.Rule, "status", string(o.Status), "message", violation.Message)
			}
			if !passing(o.Status) {
				successful = false
			}
			verdicts = append(verdicts, domain.Verdict{
				VerdictKey: domain.VerdictKey{
					TransactionID: tx.ID,
					Record:        v.Identity,
					Rule:          o.Rule,
					RunID:         runID,
				},
				VersionID:          v.ID,
				Status:             o.Status,
				Message:            o.Message(),
				PrerequisiteFailed: o.PrerequisiteFailed,
				CreatedAt:          now,
			})
		}
	}

	check, err := c.store.RecordCheck(ctx, domain.TransactionCheck{
		TransactionID:     tx.ID,
		RunID:             runID,
		HeadTransactionID: fp.head,
		VersionCount:      fp.versionCount,
		LatestVersionID:   fp.latestVersion,
		Completed:         true,
		Successful:        successful,
		CheckedAt:         now,
	}, verdicts)
	if err != nil {
		return Report{}, fmt.Errorf("record check of transaction %d: %w", tx.ID, err)
	}

	for _, v := range verdicts {
		c.metrics.IncrementVerdict(v.Rule, v.Status)
	}
	report := Report{
		RunID:         runID,
		WorkbasketID:  tx.WorkbasketID,
		TransactionID: tx.ID,
		Check:         check,
		Verdicts:      verdicts,
	}
	if successful {
		c.metrics.IncrementCheck("successful")
		logger.Info("transaction check passed", "verdicts", len(verdicts))
	} else {
		c.metrics.IncrementCheck("unsuccessful")
		logger.Warn("transaction check failed", "verdicts", len(verdicts), "failures", len(report.Failures()))
	}

	if c.archive != nil {
		key, err := c.archiveReport(ctx, report)
		if err != nil {
			return Report{}, err
		}
		report.ArchiveKey = key
	}
	return report, nil
}

func (c *Checker) archiveReport(ctx context.Context, report Report) (string, error) {
	key := ReportKey(report.WorkbasketID, report.TransactionID, report.RunID)
	report.ArchiveKey = key
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	_, err = c.archive.Put(ctx, key, bytes.NewReader(raw), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"run-id":     report.RunID,
			"successful": strconv.FormatBool(report.Check.Successful),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive report %s: %w", key, err)
	}
	return key, nil
}

// RunWorkbasket checks every transaction of the workbasket that requires an
// update, concurrently up to the worker bound. Reports follow transaction
// order.
func (c *Checker) RunWorkbasket(ctx context.Context, workbasketID int64) ([]Report, error) {
	if _, ok := c.store.GetWorkbasket(workbasketID); !ok {
		return nil, domain.NotFoundError{Entity: "workbasket", ID: strconv.FormatInt(workbasketID, 10)}
	}
	pending, err := c.RequiresUpdate(ctx, Filter{WorkbasketID: workbasketID, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	reports := make([]Report, len(pending))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, tx := range pending {
		i, tx := i, tx
		g.Go(func() error {
			report, err := c.Run(ctx, tx.ID)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	c.logger.Info("workbasket checked", "workbasket_id", workbasketID, "transactions", len(reports))
	return reports, nil
}

// ApprovalStatus lists what blocks the workbasket from approval. Missing or
// stale checks are PENDING; FAIL verdicts block, as do SKIPPED verdicts
// whose prerequisite did not fail.
func (c *Checker) ApprovalStatus(ctx context.Context, workbasketID int64) (domain.ApprovalStatus, error) {
	if _, ok := c.store.GetWorkbasket(workbasketID); !ok {
		return domain.ApprovalStatus{}, domain.NotFoundError{Entity: "workbasket", ID: strconv.FormatInt(workbasketID, 10)}
	}
	status := domain.ApprovalStatus{WorkbasketID: workbasketID}
	for _, tx := range c.store.ListTransactions(workbasketID) {
		check, ok := c.store.LatestCheck(tx.ID)
		if !ok {
			status.Blockers = append(status.Blockers, domain.Blocker{TransactionID: tx.ID, Status: domain.VerdictPending, Message: "not checked"})
			continue
		}
		stale, err := c.stale(ctx, tx, check)
		if err != nil {
			return domain.ApprovalStatus{}, err
		}
		if stale {
			status.Blockers = append(status.Blockers, domain.Blocker{TransactionID: tx.ID, Status: domain.VerdictPending, Message: "changed since last check"})
			continue
		}
		for _, v := range c.store.Verdicts(tx.ID, check.RunID) {
			blocks := v.Status == domain.VerdictFail || (v.Status == domain.VerdictSkipped && !v.PrerequisiteFailed)
			if !blocks {
				continue
			}
			status.Blockers = append(status.Blockers, domain.Blocker{
				TransactionID: tx.ID,
				Record:        v.Record,
				Rule:          v.Rule,
				Status:        v.Status,
				Message:       v.Message,
			})
		}
	}
	return status, nil
}

var _ core.ApprovalGate = (*Checker)(nil)
