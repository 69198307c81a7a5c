package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrDuplicateIdentity      = errors.New("duplicate identity")
	ErrNoPriorVersion         = errors.New("no prior version")
	ErrInvalidUpdateSequence  = errors.New("invalid update sequence")
	ErrHierarchyInconsistency = errors.New("hierarchy inconsistency")
	ErrTransactionOrderFrozen = errors.New("transaction order frozen")
	ErrIllegalTransition      = errors.New("illegal workbasket transition")
	ErrWorkbasketNotEditable  = errors.New("workbasket not editable")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateVerdict       = errors.New("duplicate verdict")
	ErrApprovalBlocked        = errors.New("approval blocked")
)

// VersionError reports a rejected create/update/delete. It always carries the
// offending identity and update type so producers can surface them.
type VersionError struct {
	Kind          error
	Identity      Identity
	UpdateType    UpdateType
	TransactionID int64
	VersionGroup  int64
	Detail        string
}

func (e *VersionError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	fmt.Fprintf(&b, ": %s %s in transaction %d", e.UpdateType, e.Identity, e.TransactionID)
	if e.VersionGroup != 0 {
		fmt.Fprintf(&b, " (version group %d)", e.VersionGroup)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *VersionError) Unwrap() error { return e.Kind }

// TransitionError reports an event that is not legal in the current status.
type TransitionError struct {
	WorkbasketID int64
	From         WorkbasketStatus
	Event        WorkbasketEvent
}

func (e *TransitionError) Error() string {
	if e.WorkbasketID != 0 {
		return fmt.Sprintf("workbasket %d: cannot %s from %s", e.WorkbasketID, e.Event, e.From)
	}
	return fmt.Sprintf("cannot %s from %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// TransactionOrderError reports an attempt to reorder an existing transaction.
type TransactionOrderError struct {
	TransactionID int64
	Order         int64
	Requested     int64
}

func (e *TransactionOrderError) Error() string {
	return fmt.Sprintf("transaction %d has order %d; cannot move to %d", e.TransactionID, e.Order, e.Requested)
}

func (e *TransactionOrderError) Unwrap() error { return ErrTransactionOrderFrozen }

// HierarchyInconsistencyError reports a commodity whose parent chain cannot be
// resolved for a period.
type HierarchyInconsistencyError struct {
	ItemID string
	Suffix string
	Period ValidityRange
	Reason string
}

func (e *HierarchyInconsistencyError) Error() string {
	return fmt.Sprintf("hierarchy inconsistency at %s/%s %s: %s", e.ItemID, e.Suffix, e.Period, e.Reason)
}

func (e *HierarchyInconsistencyError) Unwrap() error { return ErrHierarchyInconsistency }

// NotFoundError is returned when a referenced workbasket, transaction or
// version group does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// EditableError reports a write against a workbasket that is not in progress.
type EditableError struct {
	WorkbasketID int64
	Status       WorkbasketStatus
}

func (e *EditableError) Error() string {
	return fmt.Sprintf("workbasket %d is %s", e.WorkbasketID, e.Status)
}

func (e *EditableError) Unwrap() error { return ErrWorkbasketNotEditable }

// ApprovalBlockedError reports a workbasket whose checks do not allow approval.
type ApprovalBlockedError struct {
	WorkbasketID int64
	Blockers     []Blocker
}

func (e *ApprovalBlockedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "workbasket %d cannot be approved: %d blocker(s)", e.WorkbasketID, len(e.Blockers))
	for i, blocker := range e.Blockers {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		b.WriteString("; ")
		b.WriteString(blocker.String())
	}
	return b.String()
}

func (e *ApprovalBlockedError) Unwrap() error { return ErrApprovalBlocked }
