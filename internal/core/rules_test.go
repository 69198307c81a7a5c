package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/pkg/domain"
)

func TestBaselinePasses(t *testing.T) {
	f := newFixture(t)
	versions := f.write(baseline()...)
	versions = append(versions, f.write(measure(1, 102, since2021))...)
	for _, v := range versions {
		assert.Empty(t, failing(f.evaluate(v)), "version of %s", v.Identity)
	}
}

func TestHierarchyOverlapOnAncestor(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	// One shared day: 2021-12-31.
	versions := f.write(
		measure(1, 102, span("2021-01-01", "2021-12-31")),
		measure(2, 101, domain.From(domain.Date(2021, 12, 31))),
	)

	for i, v := range versions {
		outcomes := f.evaluate(v)
		assert.Equal(t, domain.VerdictPass, outcomes["ME1"].Status)
		me32 := outcomes["ME32"]
		require.Equal(t, domain.VerdictFail, me32.Status, "measure %d", i+1)
		require.Len(t, me32.Violations, 1)
		assert.Contains(t, me32.Violations[0].Message, "2021-12-31")
	}
}

func TestHierarchyOverlapOnSameCommodity(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	versions := f.write(
		measure(1, 102, span("2021-01-01", "2021-06-30")),
		measure(2, 102, span("2021-06-01", "2021-12-31")),
	)
	for _, v := range versions {
		outcomes := f.evaluate(v)
		assert.Equal(t, domain.VerdictPass, outcomes["ME1"].Status, "start dates differ")
		assert.Equal(t, domain.VerdictFail, outcomes["ME32"].Status)
	}
}

func TestHierarchyOverlapIgnoresSiblingsAndGaps(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	versions := f.write(
		measure(1, 102, since2021),
		measure(2, 103, since2021),
		measure(3, 101, span("2020-01-01", "2020-12-31")),
	)
	for _, v := range versions {
		assert.Equal(t, domain.VerdictPass, f.evaluate(v)["ME32"].Status, "%s", v.Identity)
	}
}

func TestHierarchyOverlapSkipsInconsistentNeighbour(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	// 0101 30 has no indent, so its line cannot be placed in the tree.
	f.write(domain.GoodsNomenclature{SID: 104, ItemID: "0101300000", Suffix: "80", ValidBetween: since2020})
	versions := f.write(
		measure(1, 102, since2021),
		measure(2, 104, since2021),
		measure(3, 102, domain.From(domain.Date(2021, 7, 1))),
	)

	first := f.evaluate(versions[0])["ME32"]
	require.Equal(t, domain.VerdictFail, first.Status)
	assert.NoError(t, first.Err)
	require.Len(t, first.Violations, 1)
	assert.Contains(t, first.Violations[0].Message, "overlaps measure 3")

	broken := f.evaluate(versions[1])["ME32"]
	assert.Equal(t, domain.VerdictFail, broken.Status)
	assert.ErrorIs(t, broken.Err, domain.ErrHierarchyInconsistency)
}

func TestHierarchyOverlapFollowsItemPrefix(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	f.write(
		domain.GoodsNomenclature{SID: 201, ItemID: "0102000000", Suffix: "80", ValidBetween: domain.From(domain.Date(2022, 1, 1))},
		domain.GoodsNomenclatureIndent{SID: 1201, GoodsSID: 201, Indent: 0, ValidBetween: domain.From(domain.Date(2022, 1, 1))},
		domain.GoodsNomenclature{SID: 202, ItemID: "0102100000", Suffix: "80", ValidBetween: since2021},
		domain.GoodsNomenclatureIndent{SID: 1202, GoodsSID: 202, Indent: 1, ValidBetween: since2021},
	)
	versions := f.write(
		measure(1, 101, span("2021-01-01", "2021-06-30")),
		measure(2, 202, span("2021-01-01", "2021-06-30")),
	)

	heading := f.evaluate(versions[0])["ME32"]
	assert.Equal(t, domain.VerdictPass, heading.Status, "%s", heading.Message())

	stray := f.evaluate(versions[1])["ME32"]
	assert.Empty(t, stray.Violations)
	assert.ErrorIs(t, stray.Err, domain.ErrHierarchyInconsistency)
}

func TestHierarchyOverlapNeedsSameKey(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	other := measure(2, 101, since2021)
	other.OrderNumber = "091234"
	f.write(domain.QuotaOrderNumber{SID: 7, OrderNumber: "091234", ValidBetween: since2020})
	versions := f.write(measure(1, 102, since2021), other)
	for _, v := range versions {
		assert.Equal(t, domain.VerdictPass, f.evaluate(v)["ME32"].Status)
	}
}

func TestMissingGoodsSkipsDependents(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	v := f.write(measure(1, 999, since2021))[0]

	outcomes := f.evaluate(v)
	require.Equal(t, domain.VerdictFail, outcomes["ME6"].Status)
	assert.Contains(t, outcomes["ME6"].Message(), "999 does not exist")
	for _, name := range []string{"ME7", "ME8", "ME32"} {
		o := outcomes[name]
		assert.Equal(t, domain.VerdictSkipped, o.Status, name)
		assert.True(t, o.PrerequisiteFailed, name)
		assert.Contains(t, o.Message(), "ME6")
	}
	assert.Equal(t, domain.VerdictPass, outcomes["ME2"].Status)
	assert.Equal(t, domain.VerdictPass, outcomes["ME3"].Status)
}

func TestNonDeclarableGoods(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	f.write(
		domain.GoodsNomenclature{SID: 110, ItemID: "0101290000", Suffix: "10", ValidBetween: since2020},
		domain.GoodsNomenclatureIndent{SID: 1110, GoodsSID: 110, Indent: 1, ValidBetween: since2020},
	)
	v := f.write(measure(1, 110, since2021))[0]
	outcomes := f.evaluate(v)
	assert.Equal(t, domain.VerdictFail, outcomes["ME7"].Status)
	assert.Contains(t, outcomes["ME7"].Message(), "0101290000/10")
}

func TestRegulationEffectiveEndBoundsOpenMeasures(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	f.write(
		domain.Regulation{RoleType: 1, RegulationID: "R2100020", ValidBetween: since2020, EffectiveEnd: domain.DatePtr(2022, 12, 31)},
		domain.GoodsNomenclature{SID: 104, ItemID: "0101300000", Suffix: "80", ValidBetween: span("2020-01-01", "2022-12-31")},
		domain.GoodsNomenclatureIndent{SID: 1104, GoodsSID: 104, Indent: 1, ValidBetween: span("2020-01-01", "2022-12-31")},
	)

	bounded := measure(1, 104, since2021)
	bounded.Regulation = domain.RegulationRef{RoleType: 1, RegulationID: "R2100020"}
	versions := f.write(bounded, measure(2, 104, since2021))

	ok := f.evaluate(versions[0])
	assert.Equal(t, domain.VerdictPass, ok["ME8"].Status)
	assert.Equal(t, domain.VerdictPass, ok["ME87"].Status)

	bad := f.evaluate(versions[1])
	require.Equal(t, domain.VerdictFail, bad["ME8"].Status)
	assert.Contains(t, bad["ME8"].Message(), "does not span")
}

func TestMeasureTypeMustSpanMeasures(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	shortType := domain.MeasureType{MeasureTypeID: "144", ValidBetween: span("2020-01-01", "2020-12-31")}
	typeVersion := f.write(shortType)[0]
	m := measure(1, 102, domain.From(domain.Date(2020, 6, 1)))
	m.MeasureTypeID = "144"
	measureVersion := f.write(m)[0]

	assert.Equal(t, domain.VerdictFail, f.evaluate(measureVersion)["ME3"].Status)

	// As of the measure type's own transaction nothing uses it yet.
	assert.Equal(t, domain.VerdictPass, f.evaluate(typeVersion)["MT3"].Status)

	deleted := f.update(shortType, domain.UpdateDelete)
	mt3 := f.evaluate(deleted)["MT3"]
	require.Equal(t, domain.VerdictFail, mt3.Status)
	assert.Contains(t, mt3.Message(), "still used by measure 1")
}

func TestReverseSpanAfterEdit(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	f.write(measure(1, 102, since2021))
	shortened := domain.GeographicalArea{SID: 1, AreaID: "GB", ValidBetween: span("2020-01-01", "2021-06-30")}
	v := f.update(shortened, domain.UpdateUpdate)

	outcomes := f.evaluate(v)
	require.Equal(t, domain.VerdictFail, outcomes["GA3"].Status)
	assert.Contains(t, outcomes["GA3"].Message(), "measure 1")
}

func TestIndentMustStartWithGoods(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	versions := f.write(
		domain.GoodsNomenclature{SID: 105, ItemID: "0101900000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclatureIndent{SID: 1105, GoodsSID: 105, Indent: 1, ValidBetween: since2021},
		domain.GoodsNomenclature{SID: 106, ItemID: "0101950000", Suffix: "80", ValidBetween: since2020},
	)

	late := f.evaluate(versions[0])
	require.Equal(t, domain.VerdictFail, late["NIG11"].Status)
	assert.Contains(t, late["NIG11"].Message(), "first indent starts 2021-01-01")
	// The uncovered year makes the line unresolvable in the hierarchy.
	require.Equal(t, domain.VerdictFail, late["NIG2"].Status)
	assert.ErrorIs(t, late["NIG2"].Err, domain.ErrHierarchyInconsistency)

	missing := f.evaluate(versions[2])
	assert.Contains(t, missing["NIG11"].Message(), "has no indent")
}

func TestGoodsOutlivingParent(t *testing.T) {
	f := newFixture(t)
	f.write(
		domain.GoodsNomenclature{SID: 200, ItemID: "0200000000", Suffix: "80", ValidBetween: since2020},
		domain.GoodsNomenclature{SID: 201, ItemID: "0201000000", Suffix: "80", ValidBetween: span("2020-01-01", "2021-12-31")},
		domain.GoodsNomenclatureIndent{SID: 1201, GoodsSID: 201, Indent: 0, ValidBetween: since2020},
	)
	child := f.write(
		domain.GoodsNomenclature{SID: 202, ItemID: "0201100000", Suffix: "80", ValidBetween: span("2021-01-01", "2021-12-31")},
		domain.GoodsNomenclatureIndent{SID: 1202, GoodsSID: 202, Indent: 1, ValidBetween: since2021},
	)[0]
	assert.Equal(t, domain.VerdictPass, f.evaluate(child)["NIG2"].Status)

	longer := domain.GoodsNomenclature{SID: 202, ItemID: "0201100000", Suffix: "80", ValidBetween: since2021}
	v := f.update(longer, domain.UpdateUpdate)
	outcomes := f.evaluate(v)
	assert.Equal(t, domain.VerdictFail, outcomes["NIG2"].Status)
}

func TestDuplicateGoodsLineOverlap(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	dup := f.write(
		domain.GoodsNomenclature{SID: 120, ItemID: "0101210000", Suffix: "80", ValidBetween: since2021},
		domain.GoodsNomenclatureIndent{SID: 1120, GoodsSID: 120, Indent: 1, ValidBetween: since2021},
	)[0]
	assert.Equal(t, domain.VerdictFail, f.evaluate(dup)["NIG1"].Status)
}

func TestDeletedVersionsPassForwardRules(t *testing.T) {
	f := newFixture(t)
	f.write(baseline()...)
	m := measure(1, 999, since2021)
	f.write(m)
	v := f.update(m, domain.UpdateDelete)
	assert.Empty(t, failing(f.evaluate(v)))
}

func TestDowngradeReportsWarnings(t *testing.T) {
	f := newFixture(t)
	registry, err := NewDefaultRegistry(nil, "ME6")
	require.NoError(t, err)
	f.svc = NewService(f.store, registry)
	f.write(baseline()...)
	v := f.write(measure(1, 999, since2021))[0]

	outcomes := f.evaluate(v)
	assert.Equal(t, domain.VerdictWarning, outcomes["ME6"].Status)
	// A warning does not block dependents.
	assert.Equal(t, domain.VerdictPass, outcomes["ME8"].Status)
	assert.False(t, outcomes["ME8"].PrerequisiteFailed)
}

func TestDefaultRegistryRejectsUnknownWarning(t *testing.T) {
	_, err := NewDefaultRegistry(nil, "ZZ9")
	assert.ErrorIs(t, err, ErrUnknownRule)
}
