// Package core holds the business rule registry and catalog, and the Service
// facade producers and the approval workflow go through.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tariffcore/internal/hierarchy"
	"tariffcore/pkg/domain"
)

// RecordOperation is one producer instruction: write record into the
// transaction with the given update type. Group selects the version group for
// updates and deletes; zero resolves it from the record's identity.
type RecordOperation struct {
	Transaction int64             `json:"transaction" yaml:"transaction"`
	UpdateType  domain.UpdateType `json:"update_type" yaml:"update_type"`
	Record      domain.Record     `json:"-" yaml:"-"`
	Group       int64             `json:"group,omitempty" yaml:"group,omitempty"`
}

// ApprovalGate reports what blocks a workbasket from approval.
type ApprovalGate interface {
	ApprovalStatus(ctx context.Context, workbasketID int64) (domain.ApprovalStatus, error)
}

// Service is the producer and workflow facade over the version store.
type Service struct {
	store    domain.PersistentStore
	registry *Registry
	cache    *hierarchy.Cache
	gate     ApprovalGate
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithApprovalGate requires gate to be clear before a workbasket is approved.
func WithApprovalGate(gate ApprovalGate) ServiceOption {
	return func(s *Service) { s.gate = gate }
}

// WithHierarchyCache shares commodity snapshots with the rule catalog.
func WithHierarchyCache(cache *hierarchy.Cache) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// NewService constructs a service over store evaluating registry.
func NewService(store domain.PersistentStore, registry *Registry, opts ...ServiceOption) *Service {
	s := &Service{store: store, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying version store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the rule registry.
func (s *Service) Registry() *Registry { return s.registry }

// SetApprovalGate installs the gate consulted by Approve.
func (s *Service) SetApprovalGate(gate ApprovalGate) { s.gate = gate }

// CreateWorkbasket opens a workbasket in NEW_IN_PROGRESS.
func (s *Service) CreateWorkbasket(ctx context.Context, title, reason, author string) (domain.Workbasket, error) {
	wb, err := s.store.CreateWorkbasket(ctx, domain.Workbasket{Title: title, Reason: reason, Author: author})
	if err != nil {
		return domain.Workbasket{}, err
	}
	s.logger.Info("workbasket created", "workbasket_id", wb.ID, "title", wb.Title)
	return wb, nil
}

// NewTransaction appends a draft transaction to the workbasket.
func (s *Service) NewTransaction(ctx context.Context, workbasketID int64) (domain.Transaction, error) {
	return s.store.NewTransaction(ctx, workbasketID)
}

// Apply writes one record operation. Rejections carry the identity and update
// type of the offending operation.
func (s *Service) Apply(ctx context.Context, op RecordOperation) (domain.Version, error) {
	versions, err := s.ApplyBatch(ctx, op.Transaction, []RecordOperation{op})
	if err != nil {
		return domain.Version{}, err
	}
	return versions[0], nil
}

// ApplyBatch writes every operation into one transaction, all or nothing.
// Operations naming a different transaction are rejected.
func (s *Service) ApplyBatch(ctx context.Context, transactionID int64, ops []RecordOperation) ([]domain.Version, error) {
	out := make([]domain.Version, 0, len(ops))
	err := s.store.Edit(ctx, transactionID, func(ed domain.Editor) error {
		for i, op := range ops {
			if op.Transaction != 0 && op.Transaction != transactionID {
				return fmt.Errorf("operation %d targets transaction %d inside transaction %d", i, op.Transaction, transactionID)
			}
			if op.Record == nil {
				return fmt.Errorf("operation %d: record required", i)
			}
			group := op.Group
			if group == 0 && op.UpdateType != domain.UpdateCreate {
				cur, ok := ed.View().FindCurrent(op.Record.Identity())
				if !ok {
					return &domain.VersionError{
						Kind:          domain.ErrNoPriorVersion,
						Identity:      op.Record.Identity(),
						UpdateType:    op.UpdateType,
						TransactionID: transactionID,
					}
				}
				group = cur.VersionGroup
			}
			v, err := ed.Apply(group, op.Record, op.UpdateType)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("record operation rejected", "transaction_id", transactionID, "error", err)
		return nil, err
	}
	s.logger.Debug("record operations applied", "transaction_id", transactionID, "count", len(out))
	return out, nil
}

// Current returns the current version of identity as of the transaction.
func (s *Service) Current(ctx context.Context, transactionID int64, identity domain.Identity) (domain.Version, bool, error) {
	view, err := s.store.View(ctx, transactionID)
	if err != nil {
		return domain.Version{}, false, err
	}
	v, ok := view.FindCurrent(identity)
	return v, ok, nil
}

// History returns every version of the identity's latest group.
func (s *Service) History(identity domain.Identity) []domain.Version {
	group, ok := s.store.GroupFor(identity)
	if !ok {
		return nil
	}
	return s.store.History(group)
}

// Validate runs one named rule against identity as of the transaction.
func (s *Service) Validate(ctx context.Context, ruleName string, transactionID int64, identity domain.Identity) (domain.Result, error) {
	rule, ok := s.registry.Rule(ruleName)
	if !ok {
		return domain.Result{}, fmt.Errorf("%w: %s", ErrUnknownRule, ruleName)
	}
	view, err := s.store.View(ctx, transactionID)
	if err != nil {
		return domain.Result{}, err
	}
	v, ok := view.FindCurrent(identity)
	if !ok {
		return domain.Result{}, domain.NotFoundError{Entity: "record", ID: identity.String()}
	}
	res, err := Validate(ctx, rule, view, v)
	if err != nil {
		return domain.Result{}, err
	}
	for _, violation := range res.Violations {
		s.logger.Debug("rule violation", "rule", violation.Rule, "record", violation.Identity.String(), "message", violation.Message)
	}
	return res, nil
}

// Tree returns the commodity hierarchy under prefix as of the transaction.
func (s *Service) Tree(ctx context.Context, transactionID int64, prefix string) (*hierarchy.Snapshot, error) {
	view, err := s.store.View(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return snapshotSource{cache: s.cache}.snapshot(ctx, view, prefix)
}

// Submit moves the workbasket to AWAITING_APPROVAL.
func (s *Service) Submit(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	return s.transition(ctx, workbasketID, domain.EventSubmit)
}

// Withdraw returns a submitted workbasket to editing.
func (s *Service) Withdraw(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	return s.transition(ctx, workbasketID, domain.EventWithdraw)
}

// Reject rejects a submitted workbasket.
func (s *Service) Reject(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	return s.transition(ctx, workbasketID, domain.EventReject)
}

// Reopen returns a rejected workbasket to editing.
func (s *Service) Reopen(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	return s.transition(ctx, workbasketID, domain.EventReopen)
}

// Archive archives an approved workbasket.
func (s *Service) Archive(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	return s.transition(ctx, workbasketID, domain.EventArchive)
}

// Approve publishes a submitted workbasket. With an approval gate installed,
// any FAIL, PENDING or unexplained SKIPPED verdict refuses approval with
// ErrApprovalBlocked.
func (s *Service) Approve(ctx context.Context, workbasketID int64) (domain.Workbasket, error) {
	if s.gate != nil {
		status, err := s.gate.ApprovalStatus(ctx, workbasketID)
		if err != nil {
			return domain.Workbasket{}, err
		}
		if !status.Clear() {
			err := &domain.ApprovalBlockedError{WorkbasketID: workbasketID, Blockers: status.Blockers}
			s.logger.Warn("approval blocked", "workbasket_id", workbasketID, "blockers", len(status.Blockers))
			return domain.Workbasket{}, err
		}
	}
	return s.transition(ctx, workbasketID, domain.EventApprove)
}

func (s *Service) transition(ctx context.Context, workbasketID int64, event domain.WorkbasketEvent) (domain.Workbasket, error) {
	wb, err := s.store.TransitionWorkbasket(ctx, workbasketID, event)
	if err != nil {
		var ve *domain.VersionError
		if errors.As(err, &ve) {
			s.logger.Warn("publication rejected", "workbasket_id", workbasketID, "error", err)
		}
		return domain.Workbasket{}, err
	}
	s.logger.Info("workbasket transitioned", "workbasket_id", wb.ID, "event", string(event), "status", string(wb.Status))
	return wb, nil
}
