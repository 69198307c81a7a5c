package core

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/pkg/domain"
)

type fakeGate struct {
	status domain.ApprovalStatus
	asked  []int64
}

func (g *fakeGate) ApprovalStatus(_ context.Context, workbasketID int64) (domain.ApprovalStatus, error) {
	g.asked = append(g.asked, workbasketID)
	status := g.status
	status.WorkbasketID = workbasketID
	return status, nil
}

func TestUpdateSupersedesValidity(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	created := f.write(measure(1, 102, span("2021-01-01", "2021-12-31")))[0]
	updated := f.update(measure(1, 102, domain.From(domain.Date(2021, 6, 1))), domain.UpdateUpdate)
	assert.Equal(t, created.VersionGroup, updated.VersionGroup)

	cur, ok, err := f.svc.Current(f.ctx, updated.TransactionID, created.Identity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, updated.ID, cur.ID)
	assert.Equal(t, domain.Date(2021, 6, 1), cur.ValidBetween.Lower)
	assert.True(t, cur.ValidBetween.OpenEnded())

	before, ok, err := f.svc.Current(f.ctx, created.TransactionID, created.Identity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, before.ID)

	history := f.svc.History(created.Identity)
	require.Len(t, history, 2)
	assert.Equal(t, domain.UpdateUpdate, history[1].UpdateType)
}

func TestApplyBatchIsAtomic(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.NewTransaction(f.ctx, f.wb.ID)
	require.NoError(t, err)

	area := domain.GeographicalArea{SID: 1, AreaID: "GB", ValidBetween: since2020}
	_, err = f.svc.ApplyBatch(f.ctx, tx.ID, []RecordOperation{
		{UpdateType: domain.UpdateCreate, Record: area},
		{UpdateType: domain.UpdateCreate, Record: area},
	})
	var ve *domain.VersionError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
	assert.Equal(t, area.Identity(), ve.Identity)

	_, ok, err := f.svc.Current(f.ctx, tx.ID, area.Identity())
	require.NoError(t, err)
	assert.False(t, ok, "nothing from the failed batch is visible")
}

func TestApplyRejectsMalformedOperations(t *testing.T) {
	f := newFixture(t)
	tx, err := f.svc.NewTransaction(f.ctx, f.wb.ID)
	require.NoError(t, err)

	_, err = f.svc.Apply(f.ctx, RecordOperation{Transaction: tx.ID, UpdateType: domain.UpdateUpdate, Record: measure(9, 102, since2021)})
	var ve *domain.VersionError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, domain.ErrNoPriorVersion)
	assert.Equal(t, domain.UpdateUpdate, ve.UpdateType)

	_, err = f.svc.ApplyBatch(f.ctx, tx.ID, []RecordOperation{{Transaction: tx.ID + 1, UpdateType: domain.UpdateCreate, Record: measure(9, 102, since2021)}})
	assert.Error(t, err)

	_, err = f.svc.ApplyBatch(f.ctx, tx.ID, []RecordOperation{{UpdateType: domain.UpdateCreate}})
	assert.Error(t, err)
}

func TestValidateSingleRule(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	v := f.write(measure(1, 999, since2021))[0]

	res, err := f.svc.Validate(f.ctx, "ME6", v.TransactionID, v.Identity)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "ME6", res.Violations[0].Rule)

	res, err = f.svc.Validate(f.ctx, "ME2", v.TransactionID, v.Identity)
	require.NoError(t, err)
	assert.True(t, res.Passed())

	_, err = f.svc.Validate(f.ctx, "NOPE", v.TransactionID, v.Identity)
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, err = f.svc.Validate(f.ctx, "ME6", v.TransactionID, domain.Identity{Kind: domain.KindMeasure, Key: "404"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTree(t *testing.T) {
	f := newFixture(t)
	versions := f.write(baseline()...)
	snap, err := f.svc.Tree(f.ctx, versions[0].TransactionID, "01")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Len())
	assert.Empty(t, snap.Inconsistencies())
	roots := snap.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "0100000000", roots[0].ItemID)
}

func TestApproveConsultsGate(t *testing.T) {
	f := newFixture(t)
	versions := f.write(baseline()...)
	gate := &fakeGate{status: domain.ApprovalStatus{Blockers: []domain.Blocker{{
		TransactionID: versions[0].TransactionID,
		Status:        domain.VerdictPending,
	}}}}
	f.svc.SetApprovalGate(gate)

	_, err := f.svc.Submit(f.ctx, f.wb.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(f.ctx, f.wb.ID)
	var blocked *domain.ApprovalBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.ErrorIs(t, err, domain.ErrApprovalBlocked)
	assert.Contains(t, err.Error(), "PENDING")
	wb, _ := f.store.GetWorkbasket(f.wb.ID)
	assert.Equal(t, domain.StatusAwaitingApproval, wb.Status)

	gate.status = domain.ApprovalStatus{}
	wb, err = f.svc.Approve(f.ctx, f.wb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, wb.Status)
	assert.Equal(t, []int64{f.wb.ID, f.wb.ID}, gate.asked)

	tx, ok := f.store.GetTransaction(versions[0].TransactionID)
	require.True(t, ok)
	assert.Equal(t, domain.PartitionRevision, tx.Partition)

	_, err = f.svc.Archive(f.ctx, f.wb.ID)
	require.NoError(t, err)
}

func TestWorkflowRejectsIllegalTransitions(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Approve(f.ctx, f.wb.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.svc.Submit(f.ctx, f.wb.ID)
	require.NoError(t, err)
	_, err = f.svc.Reject(f.ctx, f.wb.ID)
	require.NoError(t, err)
	_, err = f.svc.NewTransaction(f.ctx, f.wb.ID)
	assert.ErrorIs(t, err, domain.ErrWorkbasketNotEditable)

	wb, err := f.svc.Reopen(f.ctx, f.wb.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNewInProgress, wb.Status)
}

func TestServiceLogsTransitions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t)
	f.svc = NewService(f.store, f.svc.Registry(), WithLogger(logger))

	_, err := f.svc.Submit(f.ctx, f.wb.ID)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "workbasket transitioned")
	assert.Contains(t, buf.String(), "status=AWAITING_APPROVAL")
}
