package memory

import (
	"sort"

	"tariffcore/pkg/domain"
)

// view is a read-only RuleView anchored to one transaction. It reads from a
// state the caller no longer mutates.
type view struct {
	state  *memoryState
	anchor domain.Transaction
}

var _ domain.RuleView = view{}

func newView(state *memoryState, anchor domain.Transaction) view {
	return view{state: state, anchor: anchor}
}

func (v view) Transaction() domain.Transaction { return v.anchor }

func (v view) Revision() int64 { return v.state.revision }

func (v view) Current(group int64) (domain.Version, bool) {
	return v.state.current(v.anchor, group)
}

func (v view) FindCurrent(identity domain.Identity) (domain.Version, bool) {
	groups := v.state.identityGroups[identity]
	for i := len(groups) - 1; i >= 0; i-- {
		if cur, ok := v.state.current(v.anchor, groups[i]); ok {
			return cur, true
		}
	}
	return domain.Version{}, false
}

func (v view) ListCurrent(kind domain.RecordKind) []domain.Version {
	groups := v.state.kindGroups[kind]
	out := make([]domain.Version, 0, len(groups))
	for _, g := range groups {
		if cur, ok := v.state.current(v.anchor, g); ok {
			out = append(out, cur)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionGroup < out[j].VersionGroup })
	return out
}

func (v view) History(group int64) []domain.Version {
	return v.state.groupVersions(group)
}

func (v view) TransactionVersions(transactionID int64) []domain.Version {
	ids := v.state.txVersions[transactionID]
	out := make([]domain.Version, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.state.versions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
