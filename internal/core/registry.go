package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tariffcore/pkg/domain"
)

// Registry errors.
var (
	ErrDuplicateRule       = errors.New("duplicate rule")
	ErrUnknownPrerequisite = errors.New("unknown prerequisite")
	ErrPrerequisiteCycle   = errors.New("prerequisite cycle")
	ErrUnknownRule         = errors.New("unknown rule")
)

// Registry is the static table of business rules. Rules are evaluated in an
// order where every prerequisite precedes its dependents.
type Registry struct {
	byName  map[string]domain.Rule
	ordered []domain.Rule
}

// NewRegistry validates the rule set and fixes its evaluation order. Ties are
// broken by registration order.
func NewRegistry(rules ...domain.Rule) (*Registry, error) {
	r := &Registry{byName: make(map[string]domain.Rule, len(rules))}
	position := make(map[string]int, len(rules))
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("rule %d is nil", i)
		}
		name := rule.Name()
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, name)
		}
		r.byName[name] = rule
		position[name] = i
	}

	pending := make(map[string]int, len(rules))
	dependents := make(map[string][]string)
	for _, rule := range rules {
		for _, pre := range rule.Prerequisites() {
			if _, ok := r.byName[pre]; !ok {
				return nil, fmt.Errorf("%w: %s requires %s", ErrUnknownPrerequisite, rule.Name(), pre)
			}
			pending[rule.Name()]++
			dependents[pre] = append(dependents[pre], rule.Name())
		}
	}

	var ready []string
	for _, rule := range rules {
		if pending[rule.Name()] == 0 {
			ready = append(ready, rule.Name())
		}
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		r.ordered = append(r.ordered, r.byName[name])
		for _, dep := range dependents[name] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(r.ordered) != len(rules) {
		var stuck []string
		for _, rule := range rules {
			if pending[rule.Name()] > 0 {
				stuck = append(stuck, rule.Name())
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrPrerequisiteCycle, strings.Join(stuck, ", "))
	}
	return r, nil
}

// Rules returns every rule in evaluation order.
func (r *Registry) Rules() []domain.Rule {
	out := make([]domain.Rule, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Rule returns a rule by name.
func (r *Registry) Rule(name string) (domain.Rule, bool) {
	rule, ok := r.byName[name]
	return rule, ok
}

// Applicable returns the rules checking kind, in evaluation order.
func (r *Registry) Applicable(kind domain.RecordKind) []domain.Rule {
	var out []domain.Rule
	for _, rule := range r.ordered {
		if rule.AppliesTo(kind) {
			out = append(out, rule)
		}
	}
	return out
}

// Outcome is the evaluation of one rule against one version.
type Outcome struct {
	Rule               string
	Status             domain.VerdictStatus
	Violations         []domain.Violation
	PrerequisiteFailed bool
	// Err is set when the rule could not evaluate the data, such as a
	// hierarchy inconsistency. The status is FAIL.
	Err error
}

// Message renders the violations or evaluation error of the outcome.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	parts := make([]string, 0, len(o.Violations))
	for _, v := range o.Violations {
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}

func statusOf(res domain.Result) domain.VerdictStatus {
	switch {
	case res.Passed():
		return domain.VerdictPass
	case res.HasBlocking():
		return domain.VerdictFail
	default:
		return domain.VerdictWarning
	}
}

// Validate runs a single rule against a version. Violations are data; the
// error is an evaluation fault.
func Validate(ctx context.Context, rule domain.Rule, view domain.RuleView, version domain.Version) (domain.Result, error) {
	if !rule.AppliesTo(version.Kind()) {
		return domain.Result{}, nil
	}
	return rule.Validate(ctx, view, version)
}

// Evaluate runs every applicable rule against version. A rule whose
// prerequisite failed or was skipped is SKIPPED rather than run. Hierarchy
// inconsistencies become FAIL outcomes; any other error aborts evaluation.
func (r *Registry) Evaluate(ctx context.Context, view domain.RuleView, version domain.Version) ([]Outcome, error) {
	rules := r.Applicable(version.Kind())
	blocked := make(map[string]bool, len(rules))
	out := make([]Outcome, 0, len(rules))
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := rule.Name()
		if failed := r.failedPrerequisite(rule, blocked); failed != "" {
			blocked[name] = true
			out = append(out, Outcome{
				Rule:               name,
				Status:             domain.VerdictSkipped,
				PrerequisiteFailed: true,
				Violations: []domain.Violation{{
					Rule:     name,
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("prerequisite %s did not pass", failed),
					Identity: version.Identity,
				}},
			})
			continue
		}
		res, err := rule.Validate(ctx, view, version)
		switch {
		case errors.Is(err, domain.ErrHierarchyInconsistency):
			blocked[name] = true
			out = append(out, Outcome{Rule: name, Status: domain.VerdictFail, Err: err})
			continue
		case err != nil:
			return nil, fmt.Errorf("rule %s on %s: %w", name, version.Identity, err)
		}
		status := statusOf(res)
		if status == domain.VerdictFail {
			blocked[name] = true
		}
		out = append(out, Outcome{Rule: name, Status: status, Violations: res.Violations})
	}
	return out, nil
}

func (r *Registry) failedPrerequisite(rule domain.Rule, blocked map[string]bool) string {
	for _, pre := range rule.Prerequisites() {
		if blocked[pre] {
			return pre
		}
	}
	return ""
}
