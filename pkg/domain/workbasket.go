package domain

import "time"

// WorkbasketStatus is the approval state of a workbasket.
type WorkbasketStatus string

// Workbasket statuses. Only APPROVED and ARCHIVED workbaskets contribute to the
// published timeline.
const (
	StatusNewInProgress    WorkbasketStatus = "NEW_IN_PROGRESS"
	StatusAwaitingApproval WorkbasketStatus = "AWAITING_APPROVAL"
	StatusApproved         WorkbasketStatus = "APPROVED"
	StatusRejected         WorkbasketStatus = "REJECTED"
	StatusArchived         WorkbasketStatus = "ARCHIVED"
)

// Published reports whether transactions of the workbasket are part of the
// approved timeline.
func (s WorkbasketStatus) Published() bool {
	return s == StatusApproved || s == StatusArchived
}

// Editable reports whether new transactions and versions may be added.
func (s WorkbasketStatus) Editable() bool { return s == StatusNewInProgress }

// WorkbasketEvent drives a workbasket status transition.
type WorkbasketEvent string

// Workbasket events.
const (
	EventSubmit   WorkbasketEvent = "submit"
	EventWithdraw WorkbasketEvent = "withdraw"
	EventApprove  WorkbasketEvent = "approve"
	EventReject   WorkbasketEvent = "reject"
	EventReopen   WorkbasketEvent = "reopen"
	EventArchive  WorkbasketEvent = "archive"
)

type transitionKey struct {
	from  WorkbasketStatus
	event WorkbasketEvent
}

var workbasketTransitions = map[transitionKey]WorkbasketStatus{
	{StatusNewInProgress, EventSubmit}:      StatusAwaitingApproval,
	{StatusAwaitingApproval, EventWithdraw}: StatusNewInProgress,
	{StatusAwaitingApproval, EventApprove}:  StatusApproved,
	{StatusAwaitingApproval, EventReject}:   StatusRejected,
	{StatusRejected, EventReopen}:           StatusNewInProgress,
	{StatusApproved, EventArchive}:          StatusArchived,
}

// NextStatus resolves the status reached by applying event in from.
func NextStatus(from WorkbasketStatus, event WorkbasketEvent) (WorkbasketStatus, error) {
	to, ok := workbasketTransitions[transitionKey{from: from, event: event}]
	if !ok {
		return "", &TransitionError{From: from, Event: event}
	}
	return to, nil
}

// Workbasket groups draft transactions awaiting approval.
type Workbasket struct {
	ID         int64            `json:"id"`
	Title      string           `json:"title"`
	Reason     string           `json:"reason,omitempty"`
	Author     string           `json:"author,omitempty"`
	Status     WorkbasketStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	ApprovedAt *time.Time       `json:"approved_at,omitempty"`
}
