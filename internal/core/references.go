package core

import (
	"strconv"

	"tariffcore/pkg/domain"
)

// resolved is the outcome of following a reference from a record.
type resolved struct {
	key    string
	target domain.Version
	found  bool
}

// reference locates the record another record points at. present is false
// when the record carries no such reference.
type reference struct {
	label   string
	resolve func(view domain.RuleView, rec domain.Record) (res resolved, present bool)
}

func byIdentity(id domain.Identity) func(view domain.RuleView) resolved {
	return func(view domain.RuleView) resolved {
		v, ok := view.FindCurrent(id)
		return resolved{key: id.Key, target: v, found: ok}
	}
}

// byField finds the most recently opened current record of kind whose field
// matches value.
func byField(view domain.RuleView, kind domain.RecordKind, value string, field func(domain.Record) string) resolved {
	res := resolved{key: value}
	for _, v := range view.ListCurrent(kind) {
		if field(v.Record) == value {
			res.target, res.found = v, true
		}
	}
	return res
}

var (
	measureTypeRef = reference{label: "measure type", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok || m.MeasureTypeID == "" {
			return resolved{}, false
		}
		return byIdentity(m.MeasureTypeIdentity())(view), true
	}}

	areaRef = reference{label: "geographical area", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok || m.GeographicalAreaID == "" {
			return resolved{}, false
		}
		return byField(view, domain.KindGeographicalArea, m.GeographicalAreaID, func(r domain.Record) string {
			area, _ := r.(domain.GeographicalArea)
			return area.AreaID
		}), true
	}}

	measureGoodsRef = reference{label: "goods nomenclature", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok {
			return resolved{}, false
		}
		id, ok := m.GoodsIdentity()
		if !ok {
			return resolved{}, false
		}
		return byIdentity(id)(view), true
	}}

	additionalCodeRef = reference{label: "additional code", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok {
			return resolved{}, false
		}
		id, ok := m.AdditionalCodeIdentity()
		if !ok {
			return resolved{}, false
		}
		return byIdentity(id)(view), true
	}}

	regulationRef = reference{label: "regulation", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok || m.Regulation.IsZero() {
			return resolved{}, false
		}
		return byIdentity(m.Regulation.Identity())(view), true
	}}

	orderNumberRef = reference{label: "quota order number", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		m, ok := rec.(domain.Measure)
		if !ok || m.OrderNumber == "" {
			return resolved{}, false
		}
		return byField(view, domain.KindQuotaOrderNumber, m.OrderNumber, func(r domain.Record) string {
			q, _ := r.(domain.QuotaOrderNumber)
			return q.OrderNumber
		}), true
	}}

	certificateRef = reference{label: "certificate", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		c, ok := rec.(domain.MeasureCondition)
		if !ok {
			return resolved{}, false
		}
		id, ok := c.CertificateIdentity()
		if !ok {
			return resolved{}, false
		}
		return byIdentity(id)(view), true
	}}

	conditionMeasureRef = reference{label: "measure", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		c, ok := rec.(domain.MeasureCondition)
		if !ok {
			return resolved{}, false
		}
		return byIdentity(c.MeasureIdentity())(view), true
	}}

	indentGoodsRef = reference{label: "goods nomenclature", resolve: func(view domain.RuleView, rec domain.Record) (resolved, bool) {
		ind, ok := rec.(domain.GoodsNomenclatureIndent)
		if !ok {
			return resolved{}, false
		}
		return byIdentity(ind.GoodsIdentity())(view), true
	}}
)

// effectivePeriod is the validity a record is checked with. A measure without
// an end date takes the implicit end of its regulation; a condition takes the
// effective period of its measure.
func effectivePeriod(view domain.RuleView, rec domain.Record) (domain.ValidityRange, bool) {
	switch r := rec.(type) {
	case domain.Measure:
		period := r.ValidBetween
		if reg, ok := regulationRef.resolve(view, r); ok && reg.found {
			if regulation, ok := domain.RecordAs[domain.Regulation](reg.target); ok {
				period = period.WithImplicitEnd(regulation.ImplicitEnd())
			}
		}
		return period, true
	case domain.MeasureCondition:
		measure, ok := conditionMeasureRef.resolve(view, r)
		if !ok || !measure.found {
			return domain.ValidityRange{}, false
		}
		return effectivePeriod(view, measure.target.Record)
	default:
		return rec.Validity()
	}
}

// spanPeriod is the validity a referenced record offers to its dependents. A
// regulation's effective end date replaces its validity end.
func spanPeriod(v domain.Version) domain.ValidityRange {
	if reg, ok := domain.RecordAs[domain.Regulation](v); ok && reg.EffectiveEnd != nil {
		end := *reg.EffectiveEnd
		return domain.ValidityRange{Lower: reg.ValidBetween.Lower, Upper: &end}
	}
	return v.ValidBetween
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
