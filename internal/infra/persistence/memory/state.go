package memory

import (
	"slices"
	"sort"

	"tariffcore/pkg/domain"
)

// Sequences are the last identifiers allocated by the store.
type Sequences struct {
	Workbasket  int64 `json:"workbasket"`
	Transaction int64 `json:"transaction"`
	Order       int64 `json:"order"`
	Version     int64 `json:"version"`
	Group       int64 `json:"group"`
	Check       int64 `json:"check"`
}

// memoryState holds the logical tables plus the indexes derived from them.
// Slices stored in the index maps are never appended in place once shared,
// so clone only copies the map headers.
type memoryState struct {
	workbaskets  map[int64]domain.Workbasket
	transactions map[int64]domain.Transaction
	versions     map[int64]domain.Version
	checks       map[int64]domain.TransactionCheck
	verdicts     map[domain.VerdictKey]domain.Verdict

	wbTransactions map[int64][]int64
	txVersions     map[int64][]int64
	groups         map[int64][]int64
	groupIdentity  map[int64]domain.Identity
	identityGroups map[domain.Identity][]int64
	kindGroups     map[domain.RecordKind][]int64
	txChecks       map[int64][]int64
	txVerdicts     map[int64][]domain.VerdictKey

	seq      Sequences
	revision int64
}

// Snapshot captures a point-in-time copy of the logical tables.
type Snapshot struct {
	Workbaskets  []domain.Workbasket       `json:"workbaskets"`
	Transactions []domain.Transaction      `json:"transactions"`
	Versions     []domain.Version          `json:"versions"`
	Checks       []domain.TransactionCheck `json:"checks"`
	Verdicts     []domain.Verdict          `json:"verdicts"`
	Sequences    Sequences                 `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		workbaskets:    make(map[int64]domain.Workbasket),
		transactions:   make(map[int64]domain.Transaction),
		versions:       make(map[int64]domain.Version),
		checks:         make(map[int64]domain.TransactionCheck),
		verdicts:       make(map[domain.VerdictKey]domain.Verdict),
		wbTransactions: make(map[int64][]int64),
		txVersions:     make(map[int64][]int64),
		groups:         make(map[int64][]int64),
		groupIdentity:  make(map[int64]domain.Identity),
		identityGroups: make(map[domain.Identity][]int64),
		kindGroups:     make(map[domain.RecordKind][]int64),
		txChecks:       make(map[int64][]int64),
		txVerdicts:     make(map[int64][]domain.VerdictKey),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s memoryState) clone() memoryState {
	return memoryState{
		workbaskets:    cloneMap(s.workbaskets),
		transactions:   cloneMap(s.transactions),
		versions:       cloneMap(s.versions),
		checks:         cloneMap(s.checks),
		verdicts:       cloneMap(s.verdicts),
		wbTransactions: cloneMap(s.wbTransactions),
		txVersions:     cloneMap(s.txVersions),
		groups:         cloneMap(s.groups),
		groupIdentity:  cloneMap(s.groupIdentity),
		identityGroups: cloneMap(s.identityGroups),
		kindGroups:     cloneMap(s.kindGroups),
		txChecks:       cloneMap(s.txChecks),
		txVerdicts:     cloneMap(s.txVerdicts),
		seq:            s.seq,
		revision:       s.revision,
	}
}

// appendIndex appends without writing into a backing array another clone may share.
func appendIndex[K comparable, V any](index map[K][]V, key K, value V) {
	index[key] = append(slices.Clip(index[key]), value)
}

func (s *memoryState) putTransaction(tx domain.Transaction) {
	if _, exists := s.transactions[tx.ID]; !exists {
		appendIndex(s.wbTransactions, tx.WorkbasketID, tx.ID)
	}
	s.transactions[tx.ID] = tx
}

func (s *memoryState) putVersion(v domain.Version) {
	s.versions[v.ID] = v
	appendIndex(s.txVersions, v.TransactionID, v.ID)
	if _, known := s.groupIdentity[v.VersionGroup]; !known {
		s.groupIdentity[v.VersionGroup] = v.Identity
		appendIndex(s.identityGroups, v.Identity, v.VersionGroup)
		appendIndex(s.kindGroups, v.Identity.Kind, v.VersionGroup)
	}
	appendIndex(s.groups, v.VersionGroup, v.ID)
}

func (s *memoryState) putCheck(check domain.TransactionCheck) {
	s.checks[check.ID] = check
	appendIndex(s.txChecks, check.TransactionID, check.ID)
}

func (s *memoryState) putVerdict(v domain.Verdict) {
	s.verdicts[v.VerdictKey] = v
	appendIndex(s.txVerdicts, v.TransactionID, v.VerdictKey)
}

// txLess orders transactions by partition then order.
func (s *memoryState) txLess(a, b int64) bool {
	ta, tb := s.transactions[a], s.transactions[b]
	if ta.Partition != tb.Partition || ta.Order != tb.Order {
		return ta.Before(tb)
	}
	return a < b
}

// groupVersions returns the versions of group in transaction order.
func (s *memoryState) groupVersions(group int64) []domain.Version {
	ids := s.groups[group]
	out := make([]domain.Version, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.versions[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TransactionID == out[j].TransactionID {
			return out[i].ID < out[j].ID
		}
		return s.txLess(out[i].TransactionID, out[j].TransactionID)
	})
	return out
}

// visible reports whether versions written by txID can be seen from anchor.
// Published transactions see published transactions at or before them; draft
// transactions see every published transaction plus earlier drafts of their
// own workbasket.
func (s *memoryState) visible(anchor domain.Transaction, txID int64) bool {
	if txID == anchor.ID {
		return true
	}
	t, ok := s.transactions[txID]
	if !ok {
		return false
	}
	if t.Partition.Published() {
		if !anchor.Partition.Published() {
			return true
		}
		return !anchor.Before(t)
	}
	return !anchor.Partition.Published() &&
		t.WorkbasketID == anchor.WorkbasketID &&
		t.Order <= anchor.Order
}

// latestVisible returns the newest version of group visible from anchor,
// deleted or not.
func (s *memoryState) latestVisible(anchor domain.Transaction, group int64) (domain.Version, bool) {
	versions := s.groupVersions(group)
	for i := len(versions) - 1; i >= 0; i-- {
		if s.visible(anchor, versions[i].TransactionID) {
			return versions[i], true
		}
	}
	return domain.Version{}, false
}

func (s *memoryState) current(anchor domain.Transaction, group int64) (domain.Version, bool) {
	v, ok := s.latestVisible(anchor, group)
	if !ok || v.Deleted() {
		return domain.Version{}, false
	}
	return v, true
}

// laterLineageEdit returns a transaction of anchor's draft workbasket ordered
// after anchor that already edited group.
func (s *memoryState) laterLineageEdit(anchor domain.Transaction, group int64) (int64, bool) {
	if anchor.Partition.Published() {
		return 0, false
	}
	for _, id := range s.groups[group] {
		t := s.transactions[s.versions[id].TransactionID]
		if t.WorkbasketID == anchor.WorkbasketID && t.Partition == anchor.Partition && t.Order > anchor.Order {
			return t.ID, true
		}
	}
	return 0, false
}

func (s *memoryState) publishedHead() (domain.Transaction, bool) {
	var head domain.Transaction
	found := false
	for _, t := range s.transactions {
		if !t.Partition.Published() {
			continue
		}
		if !found || head.Before(t) {
			head = t
			found = true
		}
	}
	return head, found
}

func (s *memoryState) workbasketTransactions(workbasketID int64) []domain.Transaction {
	ids := s.wbTransactions[workbasketID]
	out := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.transactions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snap := Snapshot{Sequences: state.seq}
	for _, wb := range state.workbaskets {
		snap.Workbaskets = append(snap.Workbaskets, wb)
	}
	sort.Slice(snap.Workbaskets, func(i, j int) bool { return snap.Workbaskets[i].ID < snap.Workbaskets[j].ID })
	for _, tx := range state.transactions {
		snap.Transactions = append(snap.Transactions, tx)
	}
	sort.Slice(snap.Transactions, func(i, j int) bool { return snap.Transactions[i].ID < snap.Transactions[j].ID })
	for _, v := range state.versions {
		snap.Versions = append(snap.Versions, v)
	}
	sort.Slice(snap.Versions, func(i, j int) bool { return snap.Versions[i].ID < snap.Versions[j].ID })
	for _, c := range state.checks {
		snap.Checks = append(snap.Checks, c)
	}
	sort.Slice(snap.Checks, func(i, j int) bool { return snap.Checks[i].ID < snap.Checks[j].ID })
	for _, txID := range sortedKeys(state.txVerdicts) {
		for _, key := range state.txVerdicts[txID] {
			snap.Verdicts = append(snap.Verdicts, state.verdicts[key])
		}
	}
	return snap
}

func memoryStateFromSnapshot(snap Snapshot) memoryState {
	state := newMemoryState()
	state.seq = snap.Sequences
	for _, wb := range snap.Workbaskets {
		state.workbaskets[wb.ID] = wb
		state.seq.Workbasket = max(state.seq.Workbasket, wb.ID)
	}
	txs := slices.Clone(snap.Transactions)
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })
	for _, tx := range txs {
		state.putTransaction(tx)
		state.seq.Transaction = max(state.seq.Transaction, tx.ID)
		state.seq.Order = max(state.seq.Order, tx.Order)
	}
	versions := slices.Clone(snap.Versions)
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID < versions[j].ID })
	for _, v := range versions {
		state.putVersion(v)
		state.seq.Version = max(state.seq.Version, v.ID)
		state.seq.Group = max(state.seq.Group, v.VersionGroup)
	}
	for _, c := range snap.Checks {
		state.putCheck(c)
		state.seq.Check = max(state.seq.Check, c.ID)
	}
	for _, v := range snap.Verdicts {
		state.putVerdict(v)
	}
	return state
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
