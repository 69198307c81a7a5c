package domain

import (
	"errors"
	"testing"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		from  WorkbasketStatus
		event WorkbasketEvent
		want  WorkbasketStatus
	}{
		{StatusNewInProgress, EventSubmit, StatusAwaitingApproval},
		{StatusAwaitingApproval, EventWithdraw, StatusNewInProgress},
		{StatusAwaitingApproval, EventApprove, StatusApproved},
		{StatusAwaitingApproval, EventReject, StatusRejected},
		{StatusRejected, EventReopen, StatusNewInProgress},
		{StatusApproved, EventArchive, StatusArchived},
	}
	for _, tc := range cases {
		got, err := NextStatus(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s from %s: %v", tc.event, tc.from, err)
		}
		if got != tc.want {
			t.Fatalf("%s from %s = %s, want %s", tc.event, tc.from, got, tc.want)
		}
	}
}

func TestNextStatusRejectsIllegalEvents(t *testing.T) {
	illegal := []struct {
		from  WorkbasketStatus
		event WorkbasketEvent
	}{
		{StatusNewInProgress, EventApprove},
		{StatusApproved, EventSubmit},
		{StatusArchived, EventReopen},
		{StatusRejected, EventArchive},
	}
	for _, tc := range illegal {
		_, err := NextStatus(tc.from, tc.event)
		var te *TransitionError
		if !errors.As(err, &te) || !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s from %s: expected TransitionError, got %v", tc.event, tc.from, err)
		}
		if te.From != tc.from || te.Event != tc.event {
			t.Fatalf("transition error lost context: %+v", te)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	for status, want := range map[WorkbasketStatus][2]bool{
		StatusNewInProgress:    {false, true},
		StatusAwaitingApproval: {false, false},
		StatusApproved:         {true, false},
		StatusRejected:         {false, false},
		StatusArchived:         {true, false},
	} {
		if status.Published() != want[0] || status.Editable() != want[1] {
			t.Errorf("%s: published=%v editable=%v", status, status.Published(), status.Editable())
		}
	}
}

func TestTransactionOrdering(t *testing.T) {
	seed := Transaction{Partition: PartitionSeedFirst, Order: 90}
	revision := Transaction{Partition: PartitionRevision, Order: 1}
	draft := Transaction{Partition: PartitionDraft, Order: 1}
	if !seed.Before(revision) || !revision.Before(draft) || draft.Before(seed) {
		t.Fatalf("partition must order before transaction order")
	}
	if !revision.Before(Transaction{Partition: PartitionRevision, Order: 2}) {
		t.Fatalf("order breaks ties within a partition")
	}
	if PartitionDraft.Published() || !PartitionRevision.Published() {
		t.Fatalf("only seed and revision partitions are published")
	}
}
