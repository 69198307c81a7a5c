package domain

import (
	"fmt"
	"time"
)

// VerdictStatus is the outcome of one rule against one record.
type VerdictStatus string

// Verdict statuses. PENDING is never stored; it is reported for transactions
// whose check is missing or stale.
const (
	VerdictPass    VerdictStatus = "PASS"
	VerdictFail    VerdictStatus = "FAIL"
	VerdictWarning VerdictStatus = "WARNING"
	VerdictSkipped VerdictStatus = "SKIPPED"
	VerdictPending VerdictStatus = "PENDING"
)

// VerdictKey uniquely identifies a stored verdict.
type VerdictKey struct {
	TransactionID int64    `json:"transaction_id"`
	Record        Identity `json:"record"`
	Rule          string   `json:"rule"`
	RunID         string   `json:"run_id"`
}

// Verdict is the persisted result of a rule for a record within a run.
type Verdict struct {
	VerdictKey
	VersionID          int64         `json:"version_id"`
	Status             VerdictStatus `json:"status"`
	Message            string        `json:"message,omitempty"`
	PrerequisiteFailed bool          `json:"prerequisite_failed,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// TransactionCheck summarises one rule run over a transaction.
type TransactionCheck struct {
	ID                int64     `json:"id"`
	TransactionID     int64     `json:"transaction_id"`
	RunID             string    `json:"run_id"`
	HeadTransactionID int64     `json:"head_transaction_id"`
	VersionCount      int       `json:"version_count"`
	LatestVersionID   int64     `json:"latest_version_id"`
	Completed         bool      `json:"completed"`
	Successful        bool      `json:"successful"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Blocker is one reason a workbasket cannot be approved.
type Blocker struct {
	TransactionID int64         `json:"transaction_id"`
	Record        Identity      `json:"record,omitempty"`
	Rule          string        `json:"rule,omitempty"`
	Status        VerdictStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
}

func (b Blocker) String() string {
	if b.Rule == "" {
		return fmt.Sprintf("transaction %d is %s", b.TransactionID, b.Status)
	}
	return fmt.Sprintf("transaction %d %s %s: %s %s", b.TransactionID, b.Record, b.Rule, b.Status, b.Message)
}

// ApprovalStatus lists what stands between a workbasket and approval.
type ApprovalStatus struct {
	WorkbasketID int64     `json:"workbasket_id"`
	Blockers     []Blocker `json:"blockers,omitempty"`
}

// Clear reports whether nothing blocks approval.
func (s ApprovalStatus) Clear() bool { return len(s.Blockers) == 0 }
