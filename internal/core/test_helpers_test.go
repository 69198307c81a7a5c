package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tariffcore/internal/infra/persistence/memory"
	"tariffcore/pkg/domain"
)

func intPtr(v int) *int { return &v }

var (
	since2020 = domain.From(domain.Date(2020, 1, 1))
	since2021 = domain.From(domain.Date(2021, 1, 1))
)

func span(from, to string) domain.ValidityRange {
	lower, err := domain.ParseDate(from)
	if err != nil {
		panic(err)
	}
	upper, err := domain.ParseDate(to)
	if err != nil {
		panic(err)
	}
	return domain.Between(lower, &upper)
}

var baseRegulation = domain.RegulationRef{RoleType: 1, RegulationID: "R2000010"}

// baseline is a small consistent tariff: one regulation, measure type 143,
// area GB and chapter 01 with a header and two declarable subheadings.
func baseline() []domain.Record {
	return []domain.Record{
		domain.Regulation{RoleType: 1, RegulationID: "R2000010", ValidBetween: since2020},
		domain.MeasureType{MeasureTypeID: "143", Description: "Preferential tariff quota", ValidBetween: since2020},
		domain.GeographicalArea{SID: 1, AreaID: "GB", AreaCode: 0, ValidBetween: since2020},
		domain.GoodsNomenclature{SID: 100, ItemID: "0100000000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclature{SID: 101, ItemID: "0101000000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclatureIndent{SID: 1101, GoodsSID: 101, Indent: 0, ValidBetween: since2020},
		domain.GoodsNomenclature{SID: 102, ItemID: "0101210000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclatureIndent{SID: 1102, GoodsSID: 102, Indent: 1, ValidBetween: since2020},
		domain.GoodsNomenclature{SID: 103, ItemID: "0101290000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclatureIndent{SID: 1103, GoodsSID: 103, Indent: 1, ValidBetween: since2020},
	}
}

func measure(sid, goods int, valid domain.ValidityRange) domain.Measure {
	return domain.Measure{
		SID:                sid,
		MeasureTypeID:      "143",
		GeographicalAreaID: "GB",
		GoodsSID:           intPtr(goods),
		Regulation:         baseRegulation,
		ValidBetween:       valid,
	}
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	svc   *Service
	wb    domain.Workbasket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := NewDefaultRegistry(nil)
	require.NoError(t, err)
	store := memory.NewStore()
	f := &fixture{t: t, ctx: context.Background(), store: store, svc: NewService(store, registry)}
	f.wb, err = f.svc.CreateWorkbasket(f.ctx, "fixture", "tests", "tester")
	require.NoError(t, err)
	return f
}

// write creates records in a new transaction and returns their versions.
func (f *fixture) write(records ...domain.Record) []domain.Version {
	f.t.Helper()
	tx, err := f.svc.NewTransaction(f.ctx, f.wb.ID)
	require.NoError(f.t, err)
	ops := make([]RecordOperation, 0, len(records))
	for _, rec := range records {
		ops = append(ops, RecordOperation{Transaction: tx.ID, UpdateType: domain.UpdateCreate, Record: rec})
	}
	versions, err := f.svc.ApplyBatch(f.ctx, tx.ID, ops)
	require.NoError(f.t, err)
	return versions
}

// update writes an UPDATE (or DELETE) of record in a new transaction.
func (f *fixture) update(rec domain.Record, ut domain.UpdateType) domain.Version {
	f.t.Helper()
	tx, err := f.svc.NewTransaction(f.ctx, f.wb.ID)
	require.NoError(f.t, err)
	v, err := f.svc.Apply(f.ctx, RecordOperation{Transaction: tx.ID, UpdateType: ut, Record: rec})
	require.NoError(f.t, err)
	return v
}

func (f *fixture) view(transactionID int64) domain.RuleView {
	f.t.Helper()
	view, err := f.store.View(f.ctx, transactionID)
	require.NoError(f.t, err)
	return view
}

// evaluate runs the whole registry against v as of its own transaction.
func (f *fixture) evaluate(v domain.Version) map[string]Outcome {
	f.t.Helper()
	outcomes, err := f.svc.Registry().Evaluate(f.ctx, f.view(v.TransactionID), v)
	require.NoError(f.t, err)
	out := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		out[o.Rule] = o
	}
	return out
}

func failing(outcomes map[string]Outcome) []string {
	var out []string
	for name, o := range outcomes {
		if o.Status != domain.VerdictPass {
			out = append(out, name)
		}
	}
	return out
}
