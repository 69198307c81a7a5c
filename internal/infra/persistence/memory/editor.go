package memory

import (
	"fmt"
	"time"

	"tariffcore/pkg/domain"
)

// editor stages versions against a private clone of the store state. The
// clone replaces the store state only when the whole edit succeeds.
type editor struct {
	state  memoryState
	tx     domain.Transaction
	now    time.Time
	staged int
}

var _ domain.Editor = (*editor)(nil)

func (e *editor) Transaction() domain.Transaction { return e.tx }

func (e *editor) View() domain.RuleView { return newView(&e.state, e.tx) }

func (e *editor) versionError(kind error, identity domain.Identity, ut domain.UpdateType, group int64, detail string) error {
	return &domain.VersionError{
		Kind:          kind,
		Identity:      identity,
		UpdateType:    ut,
		TransactionID: e.tx.ID,
		VersionGroup:  group,
		Detail:        detail,
	}
}

func checkRecord(record domain.Record) error {
	if record == nil {
		return fmt.Errorf("record required")
	}
	if !record.Kind().Valid() {
		return fmt.Errorf("unknown record kind %q", record.Kind())
	}
	return nil
}

func (e *editor) Create(record domain.Record) (domain.Version, error) {
	if err := checkRecord(record); err != nil {
		return domain.Version{}, err
	}
	identity := record.Identity()
	for _, group := range e.state.identityGroups[identity] {
		if cur, ok := e.state.current(e.tx, group); ok {
			return domain.Version{}, e.versionError(domain.ErrDuplicateIdentity, identity, domain.UpdateCreate, group,
				fmt.Sprintf("version %d created in transaction %d is current", cur.ID, cur.TransactionID))
		}
		if later, ok := e.state.laterLineageEdit(e.tx, group); ok {
			return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, domain.UpdateCreate, group,
				fmt.Sprintf("identity edited in later transaction %d", later))
		}
	}
	e.state.seq.Group++
	return e.put(e.state.seq.Group, record, domain.UpdateCreate), nil
}

func (e *editor) Update(group int64, record domain.Record) (domain.Version, error) {
	return e.Apply(group, record, domain.UpdateUpdate)
}

func (e *editor) Delete(group int64) (domain.Version, error) {
	prior, ok := e.state.latestVisible(e.tx, group)
	if !ok {
		return domain.Version{}, e.versionError(domain.ErrNoPriorVersion, e.state.groupIdentity[group], domain.UpdateDelete, group, "")
	}
	return e.Apply(group, prior.Record, domain.UpdateDelete)
}

func (e *editor) Apply(group int64, record domain.Record, ut domain.UpdateType) (domain.Version, error) {
	if err := checkRecord(record); err != nil {
		return domain.Version{}, err
	}
	identity := record.Identity()
	switch ut {
	case domain.UpdateCreate:
		if _, exists := e.state.groups[group]; group != 0 && exists {
			return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, ut, group, "create on existing version group")
		}
		return e.Create(record)
	case domain.UpdateUpdate, domain.UpdateDelete:
	default:
		return domain.Version{}, fmt.Errorf("unknown update type %q", ut)
	}

	prior, ok := e.state.latestVisible(e.tx, group)
	if !ok {
		return domain.Version{}, e.versionError(domain.ErrNoPriorVersion, identity, ut, group, "")
	}
	for _, id := range e.state.groups[group] {
		if e.state.versions[id].TransactionID == e.tx.ID {
			return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, ut, group, "version group already edited in this transaction")
		}
	}
	if prior.Deleted() {
		return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, ut, group,
			fmt.Sprintf("deleted in transaction %d", prior.TransactionID))
	}
	if prior.Identity != identity {
		return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, ut, group,
			fmt.Sprintf("identity differs from %s", prior.Identity))
	}
	if later, ok := e.state.laterLineageEdit(e.tx, group); ok {
		return domain.Version{}, e.versionError(domain.ErrInvalidUpdateSequence, identity, ut, group,
			fmt.Sprintf("edited in later transaction %d", later))
	}
	return e.put(group, record, ut), nil
}

func (e *editor) put(group int64, record domain.Record, ut domain.UpdateType) domain.Version {
	e.state.seq.Version++
	v := domain.Version{
		ID:            e.state.seq.Version,
		VersionGroup:  group,
		Identity:      record.Identity(),
		UpdateType:    ut,
		TransactionID: e.tx.ID,
		Record:        record,
		CreatedAt:     e.now,
	}
	if validity, ok := record.Validity(); ok {
		v.ValidBetween = validity
	}
	e.state.putVersion(v)
	e.staged++
	return v
}
