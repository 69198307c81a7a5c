package domain

import (
	"context"
	"fmt"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a violation blocks approval.
const (
	// SeverityBlock fails the check.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but does not fail the check.
	SeverityWarn Severity = "warn"
)

// Violation is a BusinessRuleViolation: the rule that failed and why.
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Identity Identity `json:"identity"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// Result aggregates violations produced by rule evaluation.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// Add appends a single violation.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// Passed reports whether no violations were recorded.
func (r Result) Passed() bool { return len(r.Violations) == 0 }

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleView is a read-only view of the version store as of one transaction.
type RuleView interface {
	// Transaction is the transaction the view is anchored to.
	Transaction() Transaction
	// Current returns the current version of a group, if any.
	Current(group int64) (Version, bool)
	// FindCurrent returns the current version carrying identity, if any.
	FindCurrent(identity Identity) (Version, bool)
	// ListCurrent returns every current version of kind.
	ListCurrent(kind RecordKind) []Version
	// History returns every version of the group, visible or not, in
	// transaction order.
	History(group int64) []Version
	// TransactionVersions returns the versions written by a transaction.
	TransactionVersions(transactionID int64) []Version
	// Revision is the store revision the view was taken at. Views with the
	// same transaction and revision read identical data.
	Revision() int64
}

// Rule is a named, side-effect free consistency check.
type Rule interface {
	Name() string
	Description() string
	// AppliesTo reports whether the rule checks versions of kind.
	AppliesTo(kind RecordKind) bool
	// Prerequisites names the rules whose failure makes this rule meaningless.
	Prerequisites() []string
	// Validate checks one version as of the view's transaction. Violations are
	// data; the error is reserved for evaluation faults such as a hierarchy
	// inconsistency or a cancelled context.
	Validate(ctx context.Context, view RuleView, version Version) (Result, error)
}
