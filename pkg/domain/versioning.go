package domain

import (
	"fmt"
	"time"
)

// UpdateType records how a version changes its version group.
type UpdateType string

// Update types. CREATE opens a version group, DELETE closes it.
const (
	UpdateCreate UpdateType = "create"
	UpdateUpdate UpdateType = "update"
	UpdateDelete UpdateType = "delete"
)

// Valid reports whether u is a known update type.
func (u UpdateType) Valid() bool {
	switch u {
	case UpdateCreate, UpdateUpdate, UpdateDelete:
		return true
	default:
		return false
	}
}

// Partition orders transactions ahead of their in-partition order.
type Partition int

// Transaction partitions. Published transactions live in SEED_FIRST or
// REVISION; unpublished edits live in DRAFT.
const (
	PartitionSeedFirst Partition = 1
	PartitionRevision  Partition = 2
	PartitionDraft     Partition = 3
)

func (p Partition) String() string {
	switch p {
	case PartitionSeedFirst:
		return "SEED_FIRST"
	case PartitionRevision:
		return "REVISION"
	case PartitionDraft:
		return "DRAFT"
	default:
		return fmt.Sprintf("PARTITION(%d)", int(p))
	}
}

// Published reports whether the partition belongs to the approved timeline.
func (p Partition) Published() bool {
	return p == PartitionSeedFirst || p == PartitionRevision
}

// Transaction is one ordered unit of edits within a workbasket.
type Transaction struct {
	ID           int64     `json:"id"`
	WorkbasketID int64     `json:"workbasket_id"`
	Order        int64     `json:"order"`
	Partition    Partition `json:"partition"`
	CreatedAt    time.Time `json:"created_at"`
}

// Before reports whether t sorts strictly before other (partition, then order).
func (t Transaction) Before(other Transaction) bool {
	if t.Partition != other.Partition {
		return t.Partition < other.Partition
	}
	return t.Order < other.Order
}

// Version is one row of business data within a version group.
type Version struct {
	ID            int64         `json:"id"`
	VersionGroup  int64         `json:"version_group"`
	Identity      Identity      `json:"identity"`
	UpdateType    UpdateType    `json:"update_type"`
	TransactionID int64         `json:"transaction_id"`
	ValidBetween  ValidityRange `json:"valid_between"`
	Record        Record        `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Kind returns the record kind of the version.
func (v Version) Kind() RecordKind { return v.Identity.Kind }

// Deleted reports whether the version closes its group.
func (v Version) Deleted() bool { return v.UpdateType == UpdateDelete }

// RecordAs extracts the typed record carried by a version.
func RecordAs[T Record](v Version) (T, bool) {
	rec, ok := v.Record.(T)
	return rec, ok
}
