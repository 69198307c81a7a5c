// Package memory provides the in-memory version store. Every mutation is
// serialized behind one lock and applied to a cloned state that replaces the
// live state only on success; the SQL backends wrap it and persist snapshots.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"tariffcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// Store is the in-memory transactional version store.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

func notFound(entity string, id int64) error {
	return domain.NotFoundError{Entity: entity, ID: strconv.FormatInt(id, 10)}
}

// mutate runs fn against a clone of the state and installs the clone when fn
// succeeds.
func (s *Store) mutate(ctx context.Context, fn func(state *memoryState, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&next, s.nowFn()); err != nil {
		return err
	}
	next.revision++
	s.state = next
	return nil
}

// CreateWorkbasket stores a new workbasket in NEW_IN_PROGRESS.
func (s *Store) CreateWorkbasket(ctx context.Context, wb domain.Workbasket) (domain.Workbasket, error) {
	if wb.Title == "" {
		return domain.Workbasket{}, errors.New("workbasket title required")
	}
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		state.seq.Workbasket++
		wb.ID = state.seq.Workbasket
		wb.Status = domain.StatusNewInProgress
		wb.CreatedAt = now
		wb.UpdatedAt = now
		wb.ApprovedAt = nil
		state.workbaskets[wb.ID] = wb
		return nil
	})
	if err != nil {
		return domain.Workbasket{}, err
	}
	return wb, nil
}

// GetWorkbasket returns a workbasket by id.
func (s *Store) GetWorkbasket(id int64) (domain.Workbasket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wb, ok := s.state.workbaskets[id]
	return wb, ok
}

// ListWorkbaskets returns every workbasket ordered by id.
func (s *Store) ListWorkbaskets() []domain.Workbasket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Workbasket, 0, len(s.state.workbaskets))
	for _, wb := range s.state.workbaskets {
		out = append(out, wb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TransitionWorkbasket applies event through the workbasket transition table.
// Approval publishes the workbasket's transactions: they move to the REVISION
// partition after every published transaction, keeping their relative order.
func (s *Store) TransitionWorkbasket(ctx context.Context, id int64, event domain.WorkbasketEvent) (domain.Workbasket, error) {
	var out domain.Workbasket
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		wb, ok := state.workbaskets[id]
		if !ok {
			return notFound("workbasket", id)
		}
		next, err := domain.NextStatus(wb.Status, event)
		if err != nil {
			var te *domain.TransitionError
			if errors.As(err, &te) {
				te.WorkbasketID = id
			}
			return err
		}
		if event == domain.EventApprove {
			if err := publish(state, id); err != nil {
				return err
			}
			approvedAt := now
			wb.ApprovedAt = &approvedAt
		}
		wb.Status = next
		wb.UpdatedAt = now
		state.workbaskets[id] = wb
		out = wb
		return nil
	})
	return out, err
}

// publish renumbers the workbasket's transactions into the published
// timeline after replaying its edit sequence against it.
func publish(state *memoryState, workbasketID int64) error {
	txs := state.workbasketTransactions(workbasketID)
	for _, tx := range txs {
		state.seq.Order++
		tx.Order = state.seq.Order
		tx.Partition = domain.PartitionRevision
		state.putTransaction(tx)
	}
	for _, tx := range txs {
		anchor := state.transactions[tx.ID]
		for _, id := range state.txVersions[tx.ID] {
			if err := checkPublished(state, anchor, state.versions[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPublished verifies a version still follows a valid sequence once its
// transaction is published ahead of concurrently approved workbaskets.
func checkPublished(state *memoryState, anchor domain.Transaction, v domain.Version) error {
	fail := func(kind error, detail string) error {
		return &domain.VersionError{
			Kind:          kind,
			Identity:      v.Identity,
			UpdateType:    v.UpdateType,
			TransactionID: v.TransactionID,
			VersionGroup:  v.VersionGroup,
			Detail:        detail,
		}
	}
	var prior *domain.Version
	for _, gv := range state.groupVersions(v.VersionGroup) {
		if gv.ID == v.ID {
			break
		}
		if state.visible(anchor, gv.TransactionID) {
			gv := gv
			prior = &gv
		}
	}
	switch v.UpdateType {
	case domain.UpdateCreate:
		for _, group := range state.identityGroups[v.Identity] {
			if group == v.VersionGroup {
				continue
			}
			if cur, ok := state.current(anchor, group); ok && cur.TransactionID != v.TransactionID {
				return fail(domain.ErrDuplicateIdentity, fmt.Sprintf("published version %d is current", cur.ID))
			}
		}
	default:
		if prior == nil {
			return fail(domain.ErrNoPriorVersion, "no published prior version")
		}
		if prior.Deleted() {
			return fail(domain.ErrInvalidUpdateSequence, fmt.Sprintf("deleted in published transaction %d", prior.TransactionID))
		}
	}
	return nil
}

// NewTransaction appends a draft transaction to an editable workbasket.
func (s *Store) NewTransaction(ctx context.Context, workbasketID int64) (domain.Transaction, error) {
	var out domain.Transaction
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		wb, ok := state.workbaskets[workbasketID]
		if !ok {
			return notFound("workbasket", workbasketID)
		}
		if !wb.Status.Editable() {
			return &domain.EditableError{WorkbasketID: wb.ID, Status: wb.Status}
		}
		state.seq.Transaction++
		state.seq.Order++
		out = domain.Transaction{
			ID:           state.seq.Transaction,
			WorkbasketID: workbasketID,
			Order:        state.seq.Order,
			Partition:    domain.PartitionDraft,
			CreatedAt:    now,
		}
		state.putTransaction(out)
		return nil
	})
	return out, err
}

// GetTransaction returns a transaction by id.
func (s *Store) GetTransaction(id int64) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.state.transactions[id]
	return tx, ok
}

// ListTransactions returns the workbasket's transactions in order.
func (s *Store) ListTransactions(workbasketID int64) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.workbasketTransactions(workbasketID)
}

// ReorderTransaction accepts only the transaction's current order.
func (s *Store) ReorderTransaction(_ context.Context, id int64, order int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.state.transactions[id]
	if !ok {
		return notFound("transaction", id)
	}
	if tx.Order == order {
		return nil
	}
	return &domain.TransactionOrderError{TransactionID: id, Order: tx.Order, Requested: order}
}

// PublishedHead returns the latest published transaction.
func (s *Store) PublishedHead() (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.publishedHead()
}

// Edit stages the versions written by fn inside one transaction. Either every
// staged version is stored or none is.
func (s *Store) Edit(ctx context.Context, transactionID int64, fn func(domain.Editor) error) error {
	return s.mutate(ctx, func(state *memoryState, now time.Time) error {
		tx, ok := state.transactions[transactionID]
		if !ok {
			return notFound("transaction", transactionID)
		}
		wb := state.workbaskets[tx.WorkbasketID]
		if !wb.Status.Editable() {
			return &domain.EditableError{WorkbasketID: wb.ID, Status: wb.Status}
		}
		ed := &editor{state: *state, tx: tx, now: now}
		if err := fn(ed); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		*state = ed.state
		return nil
	})
}

// View returns a read-only view anchored to the transaction.
func (s *Store) View(ctx context.Context, transactionID int64) (domain.RuleView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.state.transactions[transactionID]
	if !ok {
		return nil, notFound("transaction", transactionID)
	}
	snapshot := s.state.clone()
	return newView(&snapshot, tx), nil
}

// History returns every version of group in transaction order.
func (s *Store) History(group int64) []domain.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.groupVersions(group)
}

// GroupFor returns the most recent version group opened for identity.
func (s *Store) GroupFor(identity domain.Identity) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := s.state.identityGroups[identity]
	if len(groups) == 0 {
		return 0, false
	}
	return groups[len(groups)-1], true
}

// RecordCheck appends a transaction check and its verdicts. Verdict keys are
// insert-or-fail: a key already stored rejects the whole batch.
func (s *Store) RecordCheck(ctx context.Context, check domain.TransactionCheck, verdicts []domain.Verdict) (domain.TransactionCheck, error) {
	err := s.mutate(ctx, func(state *memoryState, now time.Time) error {
		if _, ok := state.transactions[check.TransactionID]; !ok {
			return notFound("transaction", check.TransactionID)
		}
		seen := make(map[domain.VerdictKey]struct{}, len(verdicts))
		for _, v := range verdicts {
			if v.TransactionID != check.TransactionID || v.RunID != check.RunID {
				return fmt.Errorf("verdict %s/%s does not belong to run %s of transaction %d", v.Record, v.Rule, check.RunID, check.TransactionID)
			}
			if _, dup := state.verdicts[v.VerdictKey]; dup {
				return fmt.Errorf("%w: %s %s run %s", domain.ErrDuplicateVerdict, v.Record, v.Rule, v.RunID)
			}
			if _, dup := seen[v.VerdictKey]; dup {
				return fmt.Errorf("%w: %s %s run %s", domain.ErrDuplicateVerdict, v.Record, v.Rule, v.RunID)
			}
			seen[v.VerdictKey] = struct{}{}
		}
		state.seq.Check++
		check.ID = state.seq.Check
		if check.CheckedAt.IsZero() {
			check.CheckedAt = now
		}
		state.putCheck(check)
		for _, v := range verdicts {
			if v.CreatedAt.IsZero() {
				v.CreatedAt = now
			}
			state.putVerdict(v)
		}
		return nil
	})
	if err != nil {
		return domain.TransactionCheck{}, err
	}
	return check, nil
}

// LatestCheck returns the most recent check recorded for the transaction.
func (s *Store) LatestCheck(transactionID int64) (domain.TransactionCheck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.txChecks[transactionID]
	if len(ids) == 0 {
		return domain.TransactionCheck{}, false
	}
	return s.state.checks[ids[len(ids)-1]], true
}

// Verdicts returns the verdicts of one run in insertion order. An empty runID
// selects every run.
func (s *Store) Verdicts(transactionID int64, runID string) []domain.Verdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Verdict
	for _, key := range s.state.txVerdicts[transactionID] {
		if runID != "" && key.RunID != runID {
			continue
		}
		out = append(out, s.state.verdicts[key])
	}
	return out
}
