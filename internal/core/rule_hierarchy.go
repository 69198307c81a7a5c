package core

import (
	"context"

	"tariffcore/internal/hierarchy"
	"tariffcore/pkg/domain"
)

// snapshotSource provides commodity trees to hierarchy rules. A nil cache
// builds a fresh tree per call.
type snapshotSource struct {
	cache *hierarchy.Cache
}

func (s snapshotSource) snapshot(ctx context.Context, view domain.RuleView, prefix string) (*hierarchy.Snapshot, error) {
	if s.cache != nil {
		return s.cache.Snapshot(ctx, view, prefix)
	}
	return hierarchy.Build(ctx, view, prefix)
}

func chapterOf(itemID string) string {
	if len(itemID) < 2 {
		return itemID
	}
	return itemID[:2]
}

// overlapKey is the tuple ME32 compares between measures.
func overlapKey(m domain.Measure) string {
	return tuple(m.MeasureTypeID, m.GeographicalAreaID, optionalInt(m.AdditionalCodeSID), m.OrderNumber, optionalInt(m.ReductionIndicator))
}

// HierarchyOverlapRule rejects two measures sharing type, area, additional
// code, order number and reduction indicator whose effective validities
// overlap on the same commodity or on commodities where one is an ancestor of
// the other, as resolved during the overlap.
func HierarchyOverlapRule(name string, cache *hierarchy.Cache, prerequisites ...string) domain.Rule {
	return hierarchyOverlapRule{
		ruleSpec: ruleSpec{
			name: name,
			description: "There may be no overlap in time with other measure occurrences with a goods code in the same " +
				"nomenclature hierarchy which references the same measure type, geo area, order number, additional code and reduction indicator.",
			kind:          domain.KindMeasure,
			prerequisites: prerequisites,
		},
		source: snapshotSource{cache: cache},
	}
}

type hierarchyOverlapRule struct {
	ruleSpec
	source snapshotSource
}

func (r hierarchyOverlapRule) Validate(ctx context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	var res domain.Result
	m, ok := domain.RecordAs[domain.Measure](v)
	if !ok || v.Deleted() || m.GoodsSID == nil {
		return res, nil
	}
	goods, present := measureGoodsRef.resolve(view, m)
	if !present || !goods.found {
		return res, nil
	}
	line, _ := domain.RecordAs[domain.GoodsNomenclature](goods.target)
	chapter := chapterOf(line.ItemID)
	period, _ := effectivePeriod(view, m)
	key := overlapKey(m)

	var snap *hierarchy.Snapshot
	for _, other := range view.ListCurrent(domain.KindMeasure) {
		if other.VersionGroup == v.VersionGroup {
			continue
		}
		om, ok := domain.RecordAs[domain.Measure](other)
		if !ok || om.GoodsSID == nil || overlapKey(om) != key {
			continue
		}
		otherPeriod, _ := effectivePeriod(view, om)
		window, ok := period.Intersection(otherPeriod)
		if !ok {
			continue
		}
		otherGoods, present := measureGoodsRef.resolve(view, om)
		if !present || !otherGoods.found {
			continue
		}
		otherLine, _ := domain.RecordAs[domain.GoodsNomenclature](otherGoods.target)
		if chapterOf(otherLine.ItemID) != chapter {
			continue
		}
		if snap == nil {
			var err error
			if snap, err = r.source.snapshot(ctx, view, chapter); err != nil {
				return domain.Result{}, err
			}
		}
		if err := snap.CheckGoods(*m.GoodsSID, window); err != nil {
			return domain.Result{}, err
		}
		// An inconsistent line on the other side is reported by that
		// measure's own check.
		if snap.CheckGoods(*om.GoodsSID, window) != nil {
			continue
		}
		related, err := snap.RelatedWithin(*m.GoodsSID, *om.GoodsSID, window)
		if err != nil {
			return domain.Result{}, err
		}
		if related {
			res.Add(r.violation(v, "overlaps measure %s on %s/%s during %s", other.Identity.Key, otherLine.ItemID, otherLine.Suffix, window))
		}
	}
	return res, nil
}

// ParentValidityRule requires a goods line to be valid only while its
// resolved parent is. Unresolvable lines are reported as hierarchy
// inconsistencies.
func ParentValidityRule(name string, cache *hierarchy.Cache) domain.Rule {
	return parentValidityRule{
		ruleSpec: ruleSpec{
			name:        name,
			description: "The validity period of the goods nomenclature must be within the validity period of its parent in the hierarchy.",
			kind:        domain.KindGoodsNomenclature,
		},
		source: snapshotSource{cache: cache},
	}
}

type parentValidityRule struct {
	ruleSpec
	source snapshotSource
}

func (r parentValidityRule) Validate(ctx context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	var res domain.Result
	g, ok := domain.RecordAs[domain.GoodsNomenclature](v)
	if !ok || v.Deleted() || g.IsChapter() {
		return res, nil
	}
	snap, err := r.source.snapshot(ctx, view, chapterOf(g.ItemID))
	if err != nil {
		return res, err
	}
	if err := snap.CheckGoods(g.SID, g.ValidBetween); err != nil {
		return res, err
	}
	for _, node := range snap.NodesForGoods(g.SID) {
		parent, ok := snap.Parent(node)
		if !ok {
			continue
		}
		pv, found := view.FindCurrent(domain.GoodsNomenclature{SID: parent.GoodsSID}.Identity())
		if !found || !pv.ValidBetween.Contains(node.Period) {
			res.Add(r.violation(v, "parent %s/%s does not cover %s", parent.ItemID, parent.Suffix, node.Period))
		}
	}
	return res, nil
}

// IndentStartRule requires at least one indent per goods line, the first
// starting on the line's start date. Chapters carry an implicit indent.
func IndentStartRule(name string) domain.Rule {
	return indentStartRule{ruleSpec{
		name:        name,
		description: "At least one indent is mandatory; the first indent must start on the start date of the goods nomenclature.",
		kind:        domain.KindGoodsNomenclature,
	}}
}

type indentStartRule struct{ ruleSpec }

func (r indentStartRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	g, ok := domain.RecordAs[domain.GoodsNomenclature](v)
	if !ok || v.Deleted() || g.IsChapter() {
		return domain.Result{}, nil
	}
	var first *domain.GoodsNomenclatureIndent
	for _, iv := range view.ListCurrent(domain.KindIndent) {
		ind, ok := domain.RecordAs[domain.GoodsNomenclatureIndent](iv)
		if !ok || ind.GoodsSID != g.SID {
			continue
		}
		if first == nil || ind.ValidBetween.Lower.Before(first.ValidBetween.Lower) {
			ind := ind
			first = &ind
		}
	}
	switch {
	case first == nil:
		return r.fail(v, "goods %s/%s has no indent", g.ItemID, g.Suffix), nil
	case !first.ValidBetween.Lower.Equal(g.ValidBetween.Lower):
		return r.fail(v, "first indent starts %s, goods %s/%s starts %s",
			first.ValidBetween.Lower.Format(domain.DateLayout), g.ItemID, g.Suffix, g.ValidBetween.Lower.Format(domain.DateLayout)), nil
	}
	return domain.Result{}, nil
}
