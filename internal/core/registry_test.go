package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffcore/pkg/domain"
)

type stubRule struct {
	name    string
	prereqs []string
	result  domain.Result
	err     error
	calls   *int
}

func (s stubRule) Name() string                     { return s.name }
func (s stubRule) Description() string              { return "stub " + s.name }
func (s stubRule) AppliesTo(domain.RecordKind) bool { return true }
func (s stubRule) Prerequisites() []string          { return s.prereqs }
func (s stubRule) Validate(context.Context, domain.RuleView, domain.Version) (domain.Result, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.result, s.err
}

func names(rules []domain.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Name())
	}
	return out
}

func blocking(rule string) domain.Result {
	return domain.Result{Violations: []domain.Violation{{Rule: rule, Severity: domain.SeverityBlock, Message: rule + " failed"}}}
}

func TestRegistryOrdersPrerequisitesFirst(t *testing.T) {
	r, err := NewRegistry(
		stubRule{name: "C", prereqs: []string{"B"}},
		stubRule{name: "A"},
		stubRule{name: "B", prereqs: []string{"A"}},
		stubRule{name: "D"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, names(r.Rules()))
	_, ok := r.Rule("C")
	assert.True(t, ok)
}

func TestRegistryRejectsBadCatalogs(t *testing.T) {
	cases := []struct {
		name  string
		rules []domain.Rule
		want  error
	}{
		{"duplicate", []domain.Rule{stubRule{name: "A"}, stubRule{name: "A"}}, ErrDuplicateRule},
		{"unknown prerequisite", []domain.Rule{stubRule{name: "A", prereqs: []string{"Z"}}}, ErrUnknownPrerequisite},
		{"cycle", []domain.Rule{
			stubRule{name: "A", prereqs: []string{"C"}},
			stubRule{name: "B", prereqs: []string{"A"}},
			stubRule{name: "C", prereqs: []string{"B"}},
		}, ErrPrerequisiteCycle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.rules...)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDefaultCatalogIsWellFormed(t *testing.T) {
	r, err := NewDefaultRegistry(nil)
	require.NoError(t, err)
	seen := map[string]int{}
	for i, rule := range r.Rules() {
		seen[rule.Name()] = i
		assert.NotEmpty(t, rule.Description(), rule.Name())
		for _, pre := range rule.Prerequisites() {
			assert.Less(t, seen[pre], i, "%s before %s", pre, rule.Name())
		}
	}
	assert.Len(t, r.Applicable(domain.KindMeasureCondition), 3)
	assert.NotEmpty(t, r.Applicable(domain.KindMeasure))
}

func TestEvaluateSkipsTransitively(t *testing.T) {
	calls := 0
	r, err := NewRegistry(
		stubRule{name: "A", result: blocking("A")},
		stubRule{name: "B", prereqs: []string{"A"}, calls: &calls},
		stubRule{name: "C", prereqs: []string{"B"}, calls: &calls},
		stubRule{name: "D", calls: &calls},
	)
	require.NoError(t, err)
	f := newFixture(t)
	v := f.write(baseline()[0])[0]

	outcomes, err := r.Evaluate(f.ctx, f.view(v.TransactionID), v)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, domain.VerdictFail, outcomes[0].Status)
	assert.Equal(t, domain.VerdictSkipped, outcomes[1].Status)
	assert.Equal(t, domain.VerdictSkipped, outcomes[2].Status)
	assert.True(t, outcomes[2].PrerequisiteFailed)
	assert.Equal(t, domain.VerdictPass, outcomes[3].Status)
	assert.Equal(t, 1, calls, "only D runs")
}

func TestEvaluateTurnsHierarchyErrorsIntoFailures(t *testing.T) {
	inconsistency := &domain.HierarchyInconsistencyError{ItemID: "0101210000", Suffix: "80", Reason: "no indent covers the period"}
	r, err := NewRegistry(
		stubRule{name: "H", err: inconsistency},
		stubRule{name: "after", prereqs: []string{"H"}},
	)
	require.NoError(t, err)
	f := newFixture(t)
	v := f.write(baseline()[0])[0]

	outcomes, err := r.Evaluate(f.ctx, f.view(v.TransactionID), v)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictFail, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Message(), "no indent covers the period")
	assert.Equal(t, domain.VerdictSkipped, outcomes[1].Status)
}

func TestEvaluateAbortsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	r, err := NewRegistry(stubRule{name: "X", err: boom})
	require.NoError(t, err)
	f := newFixture(t)
	v := f.write(baseline()[0])[0]

	_, err = r.Evaluate(f.ctx, f.view(v.TransactionID), v)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err = r.Evaluate(ctx, f.view(v.TransactionID), v)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateWarnings(t *testing.T) {
	r, err := NewRegistry(
		Downgrade(stubRule{name: "W", result: blocking("W")}),
		stubRule{name: "after", prereqs: []string{"W"}},
	)
	require.NoError(t, err)
	f := newFixture(t)
	v := f.write(baseline()[0])[0]

	outcomes, err := r.Evaluate(f.ctx, f.view(v.TransactionID), v)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictWarning, outcomes[0].Status)
	assert.Equal(t, domain.SeverityWarn, outcomes[0].Violations[0].Severity)
	assert.Equal(t, domain.VerdictPass, outcomes[1].Status)
}
