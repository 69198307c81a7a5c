package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/pkg/domain"
)

func TestStoreReloadsVersionsAndChecks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tariff.db")

	store, err := NewStore(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	wb, err := store.CreateWorkbasket(ctx, domain.Workbasket{Title: "load"})
	require.NoError(t, err)
	tx, err := store.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)
	var group int64
	require.NoError(t, store.Edit(ctx, tx.ID, func(ed domain.Editor) error {
		v, err := ed.Create(domain.Regulation{
			RoleType:     1,
			RegulationID: "R2100010",
			ValidBetween: domain.Between(domain.Date(2021, 1, 1), domain.DatePtr(2021, 12, 31)),
			EffectiveEnd: domain.DatePtr(2021, 6, 30),
		})
		group = v.VersionGroup
		return err
	}))
	_, err = store.RecordCheck(ctx, domain.TransactionCheck{TransactionID: tx.ID, RunID: "r1", Completed: true, Successful: true},
		[]domain.Verdict{{VerdictKey: domain.VerdictKey{TransactionID: tx.ID, Record: domain.Identity{Kind: domain.KindRegulation, Key: "1/R2100010"}, Rule: "ROIMB1", RunID: "r1"}, Status: domain.VerdictPass}})
	require.NoError(t, err)
	_, err = store.TransitionWorkbasket(ctx, wb.ID, domain.EventSubmit)
	require.NoError(t, err)
	_, err = store.TransitionWorkbasket(ctx, wb.ID, domain.EventApprove)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok := reopened.GetWorkbasket(wb.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusApproved, got.Status)

	ptx, ok := reopened.GetTransaction(tx.ID)
	require.True(t, ok)
	assert.Equal(t, domain.PartitionRevision, ptx.Partition)

	view, err := reopened.View(ctx, tx.ID)
	require.NoError(t, err)
	cur, ok := view.Current(group)
	require.True(t, ok)
	reg, ok := domain.RecordAs[domain.Regulation](cur)
	require.True(t, ok)
	require.NotNil(t, reg.EffectiveEnd)
	assert.Equal(t, domain.Date(2021, 6, 30), *reg.EffectiveEnd)

	check, ok := reopened.LatestCheck(tx.ID)
	require.True(t, ok)
	assert.True(t, check.Successful)
	assert.Len(t, reopened.Verdicts(tx.ID, "r1"), 1)

	wb2, err := reopened.CreateWorkbasket(ctx, domain.Workbasket{Title: "second"})
	require.NoError(t, err)
	assert.Greater(t, wb2.ID, wb.ID)
}

func TestFailedEditIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tariff.db")
	store, err := NewStore(ctx, path)
	require.NoError(t, err)
	wb, err := store.CreateWorkbasket(ctx, domain.Workbasket{Title: "x"})
	require.NoError(t, err)
	tx, err := store.NewTransaction(ctx, wb.ID)
	require.NoError(t, err)

	err = store.Edit(ctx, tx.ID, func(ed domain.Editor) error {
		_, err := ed.Update(99, domain.MeasureType{MeasureTypeID: "103"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrNoPriorVersion)
	require.NoError(t, store.Close())

	reopened, err := NewStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	view, err := reopened.View(ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, view.TransactionVersions(tx.ID))
}
