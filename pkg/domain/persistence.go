package domain

import "context"

// Editor stages version writes inside one transaction. Writes staged by a
// single Edit call are applied together or not at all.
type Editor interface {
	Transaction() Transaction
	// View reads as of the transaction, including writes staged so far.
	View() RuleView
	// Create opens a new version group for the record's identity.
	Create(record Record) (Version, error)
	// Update appends an UPDATE version to group.
	Update(group int64, record Record) (Version, error)
	// Delete closes group with a DELETE version carrying the prior data.
	Delete(group int64) (Version, error)
	// Apply dispatches on updateType; group is ignored for CREATE.
	Apply(group int64, record Record, updateType UpdateType) (Version, error)
}

// PersistentStore is the version store contract shared by the memory, SQLite
// and Postgres backends.
type PersistentStore interface {
	CreateWorkbasket(ctx context.Context, wb Workbasket) (Workbasket, error)
	GetWorkbasket(id int64) (Workbasket, bool)
	ListWorkbaskets() []Workbasket
	TransitionWorkbasket(ctx context.Context, id int64, event WorkbasketEvent) (Workbasket, error)

	NewTransaction(ctx context.Context, workbasketID int64) (Transaction, error)
	GetTransaction(id int64) (Transaction, bool)
	ListTransactions(workbasketID int64) []Transaction
	ReorderTransaction(ctx context.Context, id int64, order int64) error
	// PublishedHead returns the latest published transaction, if any.
	PublishedHead() (Transaction, bool)

	Edit(ctx context.Context, transactionID int64, fn func(Editor) error) error
	View(ctx context.Context, transactionID int64) (RuleView, error)
	History(group int64) []Version
	GroupFor(identity Identity) (int64, bool)

	RecordCheck(ctx context.Context, check TransactionCheck, verdicts []Verdict) (TransactionCheck, error)
	LatestCheck(transactionID int64) (TransactionCheck, bool)
	Verdicts(transactionID int64, runID string) []Verdict
}
