// Package hierarchy reconstructs the commodity tree from goods nomenclature
// lines and their indents as of one transaction.
//
// A commodity may map to several nodes, one per period during which its
// indent and parent stay the same. Parents are resolved, never stored.
package hierarchy

import (
	"sort"
	"time"

	"tariffcore/pkg/domain"
)

// MaxDepth bounds the parent chain of any node. Ten-digit codes give five
// digit pairs, but TARIC indents run deeper than the pairs (phantom headers
// and "Other" subdivisions reach indent 13 or so), so the chain is allowed
// 16 steps before it is reported as a cycle.
const MaxDepth = 16

// Node is one commodity over one period with a single resolved parent.
type Node struct {
	ID       int                  `json:"id"`
	GoodsSID int                  `json:"goods_sid"`
	ItemID   string               `json:"item_id"`
	Suffix   string               `json:"suffix"`
	Indent   int                  `json:"indent"`
	Level    int                  `json:"level"`
	Depth    int                  `json:"depth"`
	Period   domain.ValidityRange `json:"period"`
	ParentID int                  `json:"parent_id,omitempty"`
}

// IsRoot reports whether the node has no parent in the snapshot.
func (n Node) IsRoot() bool { return n.ParentID == 0 }

// Snapshot is an immutable commodity tree. It is safe for concurrent reads.
type Snapshot struct {
	prefix        string
	transactionID int64
	revision      int64

	nodes    map[int]Node
	order    []int
	children map[int][]int
	byGoods  map[int][]int
	byItem   map[itemKey][]int
	roots    []int

	inconsistencies []*domain.HierarchyInconsistencyError
	badGoods        map[int][]*domain.HierarchyInconsistencyError
}

type itemKey struct {
	itemID string
	suffix string
}

// Prefix is the item id prefix the snapshot was built for.
func (s *Snapshot) Prefix() string { return s.prefix }

// TransactionID is the transaction the snapshot was built as of.
func (s *Snapshot) TransactionID() int64 { return s.transactionID }

// Len returns the number of consistent nodes.
func (s *Snapshot) Len() int { return len(s.order) }

func (s *Snapshot) collect(ids []int) []Node {
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id])
	}
	return out
}

// Nodes returns every consistent node in tree order.
func (s *Snapshot) Nodes() []Node { return s.collect(s.order) }

// Node returns a node by id.
func (s *Snapshot) Node(id int) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Roots returns nodes without a parent in the snapshot.
func (s *Snapshot) Roots() []Node { return s.collect(s.roots) }

// Children returns the direct children of node.
func (s *Snapshot) Children(node Node) []Node { return s.collect(s.children[node.ID]) }

// Parent returns the resolved parent of node.
func (s *Snapshot) Parent(node Node) (Node, bool) {
	if node.ParentID == 0 {
		return Node{}, false
	}
	return s.Node(node.ParentID)
}

// Ancestors returns the parent chain of node, nearest first.
func (s *Snapshot) Ancestors(node Node) []Node {
	var out []Node
	seen := map[int]bool{node.ID: true}
	for cur, ok := s.Parent(node); ok && !seen[cur.ID] && len(out) < MaxDepth; cur, ok = s.Parent(cur) {
		seen[cur.ID] = true
		out = append(out, cur)
	}
	return out
}

// Descendants returns every node below node in depth-first tree order.
func (s *Snapshot) Descendants(node Node) []Node {
	var out []Node
	var walk func(id int)
	walk = func(id int) {
		for _, child := range s.children[id] {
			out = append(out, s.nodes[child])
			walk(child)
		}
	}
	walk(node.ID)
	return out
}

// NodesFor returns the nodes of one commodity line ordered by period.
func (s *Snapshot) NodesFor(itemID, suffix string) []Node {
	return s.collect(s.byItem[itemKey{itemID, suffix}])
}

// NodesForGoods returns the nodes of a goods nomenclature SID ordered by period.
func (s *Snapshot) NodesForGoods(sid int) []Node { return s.collect(s.byGoods[sid]) }

// NodeAt returns the node of a commodity line in force on date.
func (s *Snapshot) NodeAt(itemID, suffix string, date time.Time) (Node, bool) {
	for _, n := range s.NodesFor(itemID, suffix) {
		if n.Period.ContainsDate(date) {
			return n, true
		}
	}
	return Node{}, false
}

// Inconsistencies returns every reported inconsistency ordered by item id.
func (s *Snapshot) Inconsistencies() []*domain.HierarchyInconsistencyError {
	out := make([]*domain.HierarchyInconsistencyError, len(s.inconsistencies))
	copy(out, s.inconsistencies)
	return out
}

// CheckGoods returns the first inconsistency of the goods line overlapping period.
func (s *Snapshot) CheckGoods(sid int, period domain.ValidityRange) error {
	for _, inc := range s.badGoods[sid] {
		if inc.Period.Overlaps(period) {
			return inc
		}
	}
	return nil
}

// Walk visits consistent nodes depth first, roots in tree order.
func (s *Snapshot) Walk(fn func(node Node) bool) {
	var visit func(ids []int) bool
	visit = func(ids []int) bool {
		for _, id := range ids {
			if !fn(s.nodes[id]) || !visit(s.children[id]) {
				return false
			}
		}
		return true
	}
	visit(s.roots)
}

// RelatedWithin reports whether goods a and b are the same commodity, or one
// is an ancestor of the other, on some day of period. Relationships are taken
// from each node's own period. An inconsistency on either line is returned as
// an error.
func (s *Snapshot) RelatedWithin(a, b int, period domain.ValidityRange) (bool, error) {
	if err := s.CheckGoods(a, period); err != nil {
		return false, err
	}
	if err := s.CheckGoods(b, period); err != nil {
		return false, err
	}
	if a == b {
		return true, nil
	}
	for _, na := range s.NodesForGoods(a) {
		window, ok := na.Period.Intersection(period)
		if !ok {
			continue
		}
		for _, nb := range s.NodesForGoods(b) {
			if !nb.Period.Overlaps(window) {
				continue
			}
			if s.isAncestor(na, nb) || s.isAncestor(nb, na) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Snapshot) isAncestor(ancestor, node Node) bool {
	for _, n := range s.Ancestors(node) {
		if n.ID == ancestor.ID {
			return true
		}
	}
	return false
}

func (s *Snapshot) sortIndexes() {
	less := func(ids []int) func(i, j int) bool {
		return func(i, j int) bool { return ids[i] < ids[j] }
	}
	for _, ids := range s.children {
		sort.Slice(ids, less(ids))
	}
	for _, ids := range s.byGoods {
		sort.Slice(ids, less(ids))
	}
	for _, ids := range s.byItem {
		sort.Slice(ids, less(ids))
	}
	sort.Slice(s.roots, less(s.roots))
	sort.SliceStable(s.inconsistencies, func(i, j int) bool {
		a, b := s.inconsistencies[i], s.inconsistencies[j]
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.Suffix != b.Suffix {
			return a.Suffix < b.Suffix
		}
		return a.Period.Lower.Before(b.Period.Lower)
	})
}
