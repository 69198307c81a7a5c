package core

import (
	"context"
	"fmt"
	"strings"

	"tariffcore/pkg/domain"
)

// ruleSpec carries the metadata shared by every rule family.
type ruleSpec struct {
	name          string
	description   string
	kind          domain.RecordKind
	prerequisites []string
}

func (s ruleSpec) Name() string                          { return s.name }
func (s ruleSpec) Description() string                   { return s.description }
func (s ruleSpec) AppliesTo(kind domain.RecordKind) bool { return kind == s.kind }
func (s ruleSpec) Prerequisites() []string {
	out := make([]string, len(s.prerequisites))
	copy(out, s.prerequisites)
	return out
}

func (s ruleSpec) violation(v domain.Version, format string, args ...any) domain.Violation {
	return domain.Violation{
		Rule:     s.name,
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf(format, args...),
		Identity: v.Identity,
	}
}

func (s ruleSpec) fail(v domain.Version, format string, args ...any) domain.Result {
	return domain.Result{Violations: []domain.Violation{s.violation(v, format, args...)}}
}

// UniquenessRule rejects two current records of kind sharing the tuple
// returned by key. With overlapping set, only records whose validity overlaps
// collide.
func UniquenessRule(name, description string, kind domain.RecordKind, key func(domain.Record) string, overlapping bool) domain.Rule {
	return uniquenessRule{ruleSpec: ruleSpec{name: name, description: description, kind: kind}, key: key, overlapping: overlapping}
}

type uniquenessRule struct {
	ruleSpec
	key         func(domain.Record) string
	overlapping bool
}

func (r uniquenessRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	var res domain.Result
	if v.Deleted() {
		return res, nil
	}
	key := r.key(v.Record)
	for _, other := range view.ListCurrent(r.kind) {
		if other.VersionGroup == v.VersionGroup || r.key(other.Record) != key {
			continue
		}
		if r.overlapping && !other.ValidBetween.Overlaps(v.ValidBetween) {
			continue
		}
		res.Add(r.violation(v, "%s duplicates %s on %s", v.Identity, other.Identity, key))
	}
	return res, nil
}

func tuple(parts ...string) string { return strings.Join(parts, "|") }

// ValidityRangeRule requires the end date to be on or after the start date.
func ValidityRangeRule(name string, kind domain.RecordKind) domain.Rule {
	return validityRangeRule{ruleSpec{name: name, description: fmt.Sprintf("The end date of the %s must be greater than or equal to the start date.", label(kind)), kind: kind}}
}

type validityRangeRule struct{ ruleSpec }

func (r validityRangeRule) Validate(_ context.Context, _ domain.RuleView, v domain.Version) (domain.Result, error) {
	if v.Deleted() || v.ValidBetween.Valid() {
		return domain.Result{}, nil
	}
	return r.fail(v, "end date %s is before start date %s",
		v.ValidBetween.Upper.Format(domain.DateLayout), v.ValidBetween.Lower.Format(domain.DateLayout)), nil
}

// MustExistRule requires the record referenced through ref to be current.
// Records without the reference pass.
func MustExistRule(name string, kind domain.RecordKind, ref reference) domain.Rule {
	return mustExistRule{
		ruleSpec: ruleSpec{name: name, description: fmt.Sprintf("The %s referenced by the %s must exist.", ref.label, label(kind)), kind: kind},
		ref:      ref,
	}
}

type mustExistRule struct {
	ruleSpec
	ref reference
}

func (r mustExistRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	if v.Deleted() {
		return domain.Result{}, nil
	}
	res, present := r.ref.resolve(view, v.Record)
	if !present || res.found {
		return domain.Result{}, nil
	}
	return r.fail(v, "%s %s does not exist", r.ref.label, res.key), nil
}

// SpanRule requires the validity of the record referenced through ref to span
// the effective validity of the checked record. A missing reference passes;
// it is reported by the must-exist prerequisite.
func SpanRule(name string, kind domain.RecordKind, ref reference, prerequisites ...string) domain.Rule {
	return spanRule{
		ruleSpec: ruleSpec{
			name:          name,
			description:   fmt.Sprintf("The validity period of the %s must span the validity period of the %s.", ref.label, label(kind)),
			kind:          kind,
			prerequisites: prerequisites,
		},
		ref: ref,
	}
}

type spanRule struct {
	ruleSpec
	ref reference
}

func (r spanRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	if v.Deleted() {
		return domain.Result{}, nil
	}
	target, present := r.ref.resolve(view, v.Record)
	if !present || !target.found {
		return domain.Result{}, nil
	}
	period, ok := effectivePeriod(view, v.Record)
	if !ok {
		return domain.Result{}, nil
	}
	offered := spanPeriod(target.target)
	if offered.Contains(period) {
		return domain.Result{}, nil
	}
	return r.fail(v, "%s %s valid %s does not span %s", r.ref.label, target.key, offered, period), nil
}

// ReverseSpanRule checks a referenced record against its dependents: its
// validity must span each dependent's effective validity, and it cannot be
// deleted while dependents remain.
func ReverseSpanRule(name, description string, kind domain.RecordKind, dependentLabel string, dependents func(view domain.RuleView, rec domain.Record) []domain.Version) domain.Rule {
	return reverseSpanRule{
		ruleSpec:       ruleSpec{name: name, description: description, kind: kind},
		dependentLabel: dependentLabel,
		dependents:     dependents,
	}
}

type reverseSpanRule struct {
	ruleSpec
	dependentLabel string
	dependents     func(view domain.RuleView, rec domain.Record) []domain.Version
}

func (r reverseSpanRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	var res domain.Result
	for _, dep := range r.dependents(view, v.Record) {
		if v.Deleted() {
			res.Add(r.violation(v, "%s is still used by %s %s", v.Identity, r.dependentLabel, dep.Identity.Key))
			continue
		}
		period, ok := effectivePeriod(view, dep.Record)
		if !ok || v.ValidBetween.Contains(period) {
			continue
		}
		res.Add(r.violation(v, "validity %s does not span %s %s valid %s", v.ValidBetween, r.dependentLabel, dep.Identity.Key, period))
	}
	return res, nil
}

// DeclarableRule requires the goods line of a measure to carry the
// declarable suffix.
func DeclarableRule(name string, prerequisites ...string) domain.Rule {
	return declarableRule{ruleSpec{
		name:          name,
		description:   "The goods code, if specified, must be a declarable line (suffix 80).",
		kind:          domain.KindMeasure,
		prerequisites: prerequisites,
	}}
}

type declarableRule struct{ ruleSpec }

func (r declarableRule) Validate(_ context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	if v.Deleted() {
		return domain.Result{}, nil
	}
	target, present := measureGoodsRef.resolve(view, v.Record)
	if !present || !target.found {
		return domain.Result{}, nil
	}
	g, ok := domain.RecordAs[domain.GoodsNomenclature](target.target)
	if !ok || g.Suffix == domain.DeclarableSuffix {
		return domain.Result{}, nil
	}
	return r.fail(v, "goods %s/%s is not declarable", g.ItemID, g.Suffix), nil
}

// Downgrade reports the violations of rule as warnings instead of failures.
func Downgrade(rule domain.Rule) domain.Rule { return warningRule{rule} }

type warningRule struct{ domain.Rule }

func (w warningRule) Validate(ctx context.Context, view domain.RuleView, v domain.Version) (domain.Result, error) {
	res, err := w.Rule.Validate(ctx, view, v)
	for i := range res.Violations {
		res.Violations[i].Severity = domain.SeverityWarn
	}
	return res, err
}

func label(kind domain.RecordKind) string {
	return strings.ReplaceAll(string(kind), "_", " ")
}
