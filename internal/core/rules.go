package core

import (
	"fmt"

	"tariffcore/internal/hierarchy"
	"tariffcore/pkg/domain"
)

func startDate(r domain.ValidityRange) string { return r.Lower.Format(domain.DateLayout) }

// DefaultRules returns the built-in TARIC rule catalog. Hierarchy rules share
// snapshots through cache; nil builds them per evaluation.
func DefaultRules(cache *hierarchy.Cache) []domain.Rule {
	return []domain.Rule{
		// Regulations.
		UniquenessRule("ROIMB1", "The (regulation id + role id) must be unique.", domain.KindRegulation,
			func(r domain.Record) string {
				reg, _ := r.(domain.Regulation)
				return tuple(reg.RegulationID, optionalInt(&reg.RoleType))
			}, false),
		ValidityRangeRule("ROIMB3", domain.KindRegulation),

		// Measure types.
		UniquenessRule("MT1", "The measure type code must be unique.", domain.KindMeasureType,
			func(r domain.Record) string {
				mt, _ := r.(domain.MeasureType)
				return mt.MeasureTypeID
			}, false),
		ValidityRangeRule("MT2", domain.KindMeasureType),
		ReverseSpanRule("MT3", "When a measure type is used in a measure then the validity period of the measure type must span the validity period of the measure.",
			domain.KindMeasureType, "measure", measuresUsing(func(mt domain.Record, m domain.Measure) bool {
				t, ok := mt.(domain.MeasureType)
				return ok && m.MeasureTypeID == t.MeasureTypeID
			})),

		// Geographical areas.
		UniquenessRule("GA1", "The combination geographical area id + validity start date must be unique.", domain.KindGeographicalArea,
			func(r domain.Record) string {
				a, _ := r.(domain.GeographicalArea)
				return tuple(a.AreaID, startDate(a.ValidBetween))
			}, false),
		ValidityRangeRule("GA2", domain.KindGeographicalArea),
		ReverseSpanRule("GA3", "When a geographical area is referenced in a measure then the validity period of the geographical area must span the validity period of the measure.",
			domain.KindGeographicalArea, "measure", measuresUsing(func(ga domain.Record, m domain.Measure) bool {
				a, ok := ga.(domain.GeographicalArea)
				return ok && m.GeographicalAreaID == a.AreaID
			})),

		// Additional codes.
		UniquenessRule("ACN1", "The combination additional code type + additional code + start date must be unique.", domain.KindAdditionalCode,
			func(r domain.Record) string {
				a, _ := r.(domain.AdditionalCode)
				return tuple(a.TypeID, a.Code, startDate(a.ValidBetween))
			}, false),
		ValidityRangeRule("ACN2", domain.KindAdditionalCode),

		// Certificates.
		UniquenessRule("CE2", "The combination certificate type and code must be unique.", domain.KindCertificate,
			func(r domain.Record) string {
				c, _ := r.(domain.Certificate)
				return tuple(c.TypeCode, c.Code, startDate(c.ValidBetween))
			}, false),
		ValidityRangeRule("CE3", domain.KindCertificate),

		// Quota order numbers.
		UniquenessRule("ON1", "Quota order number id + start date must be unique.", domain.KindQuotaOrderNumber,
			func(r domain.Record) string {
				q, _ := r.(domain.QuotaOrderNumber)
				return tuple(q.OrderNumber, startDate(q.ValidBetween))
			}, false),
		ValidityRangeRule("ON2", domain.KindQuotaOrderNumber),

		// Goods nomenclature.
		UniquenessRule("NIG1", "The validity period of a goods code must not overlap another line with the same item id and suffix.", domain.KindGoodsNomenclature,
			func(r domain.Record) string {
				g, _ := r.(domain.GoodsNomenclature)
				return tuple(g.ItemID, g.Suffix)
			}, true),
		ValidityRangeRule("NIG4", domain.KindGoodsNomenclature),
		IndentStartRule("NIG11"),
		ParentValidityRule("NIG2", cache),
		MustExistRule("NIG12", domain.KindIndent, indentGoodsRef),

		// Measures.
		UniquenessRule("ME1", "The combination of measure type, geographical area, goods code, additional code, order number, reduction indicator and start date must be unique.", domain.KindMeasure,
			func(r domain.Record) string {
				m, _ := r.(domain.Measure)
				return tuple(overlapKey(m), optionalInt(m.GoodsSID), startDate(m.ValidBetween))
			}, false),
		ValidityRangeRule("ME25", domain.KindMeasure),
		MustExistRule("ME2", domain.KindMeasure, measureTypeRef),
		SpanRule("ME3", domain.KindMeasure, measureTypeRef, "ME2"),
		MustExistRule("ME4", domain.KindMeasure, areaRef),
		SpanRule("ME5", domain.KindMeasure, areaRef, "ME4"),
		MustExistRule("ME6", domain.KindMeasure, measureGoodsRef),
		DeclarableRule("ME7", "ME6"),
		SpanRule("ME8", domain.KindMeasure, measureGoodsRef, "ME6"),
		MustExistRule("ME12", domain.KindMeasure, additionalCodeRef),
		SpanRule("ME115", domain.KindMeasure, additionalCodeRef, "ME12"),
		MustExistRule("ME24", domain.KindMeasure, regulationRef),
		SpanRule("ME87", domain.KindMeasure, regulationRef, "ME24"),
		MustExistRule("ME116", domain.KindMeasure, orderNumberRef),
		SpanRule("ME117", domain.KindMeasure, orderNumberRef, "ME116"),
		HierarchyOverlapRule("ME32", cache, "ME6"),

		// Measure conditions.
		MustExistRule("MC1", domain.KindMeasureCondition, conditionMeasureRef),
		MustExistRule("ME56", domain.KindMeasureCondition, certificateRef),
		SpanRule("ME57", domain.KindMeasureCondition, certificateRef, "ME56"),
	}
}

// NewDefaultRegistry builds the registry for the default catalog. Rules named
// in warn report warnings instead of failures.
func NewDefaultRegistry(cache *hierarchy.Cache, warn ...string) (*Registry, error) {
	downgrade := make(map[string]bool, len(warn))
	for _, name := range warn {
		downgrade[name] = true
	}
	rules := DefaultRules(cache)
	for i, rule := range rules {
		if downgrade[rule.Name()] {
			rules[i] = Downgrade(rule)
			delete(downgrade, rule.Name())
		}
	}
	for name := range downgrade {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}
	return NewRegistry(rules...)
}

func measuresUsing(match func(rec domain.Record, m domain.Measure) bool) func(view domain.RuleView, rec domain.Record) []domain.Version {
	return func(view domain.RuleView, rec domain.Record) []domain.Version {
		var out []domain.Version
		for _, v := range view.ListCurrent(domain.KindMeasure) {
			if m, ok := domain.RecordAs[domain.Measure](v); ok && match(rec, m) {
				out = append(out, v)
			}
		}
		return out
	}
}
