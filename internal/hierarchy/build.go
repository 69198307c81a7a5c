package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tariffcore/pkg/domain"
)

type goodsLine struct {
	goods   domain.GoodsNomenclature
	indents []domain.GoodsNomenclatureIndent
}

// piece is a candidate node. Inconsistent pieces stay in the candidate list so
// that children resolving to them are excluded too.
type piece struct {
	node   Node
	bad    bool
	reason string
}

// Build reconstructs the tree for goods lines whose item id starts with prefix,
// as visible from view. Inconsistencies are recorded on the snapshot.
func Build(ctx context.Context, view domain.RuleView, prefix string) (*Snapshot, error) {
	lines, chapters := loadLines(view, prefix)
	snap := &Snapshot{
		prefix:        prefix,
		transactionID: view.Transaction().ID,
		revision:      view.Revision(),
		nodes:         make(map[int]Node),
		children:      make(map[int][]int),
		byGoods:       make(map[int][]int),
		byItem:        make(map[itemKey][]int),
		badGoods:      make(map[int][]*domain.HierarchyInconsistencyError),
	}

	var segments []piece
	for _, line := range lines {
		segments = append(segments, indentSegments(line)...)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i].node, segments[j].node
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		if a.Suffix != b.Suffix {
			return a.Suffix < b.Suffix
		}
		return a.Period.Lower.Before(b.Period.Lower)
	})

	var resolved []piece
	for i, seg := range segments {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if seg.bad {
			resolved = append(resolved, seg)
			continue
		}
		resolved = append(resolved, resolveParents(resolved, seg, chapters)...)
	}

	// Node ids are 1-based positions in resolved, matching the parent
	// references recorded during resolution.
	for i := range resolved {
		p := &resolved[i]
		p.node.ID = i + 1
		if p.bad {
			snap.record(p.node, p.reason)
			continue
		}
		if p.node.Depth > MaxDepth {
			p.bad = true
			snap.record(p.node, fmt.Sprintf("parent chain exceeds %d levels", MaxDepth))
			continue
		}
		snap.add(p.node)
	}
	snap.sortIndexes()
	return snap, nil
}

func (s *Snapshot) add(n Node) {
	s.nodes[n.ID] = n
	s.order = append(s.order, n.ID)
	s.byGoods[n.GoodsSID] = append(s.byGoods[n.GoodsSID], n.ID)
	key := itemKey{n.ItemID, n.Suffix}
	s.byItem[key] = append(s.byItem[key], n.ID)
	if n.ParentID == 0 {
		s.roots = append(s.roots, n.ID)
	} else {
		s.children[n.ParentID] = append(s.children[n.ParentID], n.ID)
	}
}

func (s *Snapshot) record(n Node, reason string) {
	inc := &domain.HierarchyInconsistencyError{ItemID: n.ItemID, Suffix: n.Suffix, Period: n.Period, Reason: reason}
	s.inconsistencies = append(s.inconsistencies, inc)
	s.badGoods[n.GoodsSID] = append(s.badGoods[n.GoodsSID], inc)
}

// loadLines gathers visible goods lines under prefix with their indents, and
// the set of chapters present among them.
func loadLines(view domain.RuleView, prefix string) ([]goodsLine, map[string]bool) {
	bySID := make(map[int]*goodsLine)
	chapters := make(map[string]bool)
	for _, v := range view.ListCurrent(domain.KindGoodsNomenclature) {
		g, ok := domain.RecordAs[domain.GoodsNomenclature](v)
		if !ok || !strings.HasPrefix(g.ItemID, prefix) || !g.ValidBetween.Valid() {
			continue
		}
		bySID[g.SID] = &goodsLine{goods: g}
		if g.IsChapter() {
			chapters[g.Chapter()] = true
		}
	}
	for _, v := range view.ListCurrent(domain.KindIndent) {
		ind, ok := domain.RecordAs[domain.GoodsNomenclatureIndent](v)
		if !ok {
			continue
		}
		if line, ok := bySID[ind.GoodsSID]; ok {
			line.indents = append(line.indents, ind)
		}
	}
	out := make([]goodsLine, 0, len(bySID))
	for _, line := range bySID {
		sort.Slice(line.indents, func(i, j int) bool {
			a, b := line.indents[i], line.indents[j]
			if !a.ValidBetween.Lower.Equal(b.ValidBetween.Lower) {
				return a.ValidBetween.Lower.Before(b.ValidBetween.Lower)
			}
			return a.SID < b.SID
		})
		out = append(out, *line)
	}
	return out, chapters
}

// indentPeriods gives every indent an explicit end: its own, or the day before
// the next indent starts, or the goods end.
func indentPeriods(line goodsLine) []labelled[int] {
	out := make([]labelled[int], 0, len(line.indents))
	for i, ind := range line.indents {
		period := ind.ValidBetween
		if period.Upper == nil {
			if i+1 < len(line.indents) {
				period.Upper = dayBefore(line.indents[i+1].ValidBetween.Lower)
			} else {
				period.Upper = line.goods.ValidBetween.Upper
			}
		}
		if !period.Valid() {
			continue
		}
		out = append(out, labelled[int]{period: period, label: ind.Indent})
	}
	return out
}

// unknownLevel marks pieces without a usable indent. They qualify as a parent
// only by item id prefix, so their subtree is excluded with them.
const unknownLevel = 1 << 30

type segmentLabel struct {
	indent int
	reason string
}

// indentSegments cuts the goods validity into periods of constant indent.
// Uncovered or conflicting periods come back as inconsistent pieces.
func indentSegments(line goodsLine) []piece {
	g := line.goods
	base := Node{GoodsSID: g.SID, ItemID: g.ItemID, Suffix: g.Suffix}
	periods := indentPeriods(line)
	if g.IsChapter() && len(periods) == 0 {
		periods = []labelled[int]{{period: g.ValidBetween, label: 0}}
	}
	ranges := make([]domain.ValidityRange, 0, len(periods))
	for _, p := range periods {
		ranges = append(ranges, p.period)
	}

	var pieces []labelled[segmentLabel]
	for _, part := range split(g.ValidBetween, ranges) {
		label := segmentLabel{indent: -1}
		for _, p := range periods {
			if !p.period.Contains(part) {
				continue
			}
			switch {
			case label.indent == -1 && label.reason == "":
				label.indent = p.label
			case label.indent != p.label:
				label = segmentLabel{indent: -1, reason: "overlapping indents with different values"}
			}
		}
		if label.indent == -1 && label.reason == "" {
			label.reason = "no indent covers the period"
		}
		pieces = append(pieces, labelled[segmentLabel]{period: part, label: label})
	}

	var out []piece
	for _, p := range merge(pieces) {
		n := base
		n.Period = p.period
		if p.label.reason != "" {
			n.Level = unknownLevel
			out = append(out, piece{node: n, bad: true, reason: p.label.reason})
			continue
		}
		n.Indent = p.label.indent
		n.Level = p.label.indent + 1
		if g.IsChapter() {
			n.Level = 0
		}
		out = append(out, piece{node: n})
	}
	return out
}

// qualifies reports whether candidate can be the parent of child. Its
// significant digits must prefix the child's item id, and it must sit at a
// shallower level or be a phantom header at the same level.
func qualifies(candidate, child Node) bool {
	digits := domain.SignificantDigits(candidate.ItemID)
	if !strings.HasPrefix(child.ItemID, digits) {
		return false
	}
	if candidate.Level == unknownLevel {
		return candidate.ItemID != child.ItemID
	}
	if candidate.Level < child.Level {
		return true
	}
	if candidate.Level != child.Level || candidate.ItemID == child.ItemID {
		return false
	}
	return len(digits) < len(child.ItemID) && domain.SignificantDigits(child.ItemID) != digits
}

// resolveParents splits seg wherever its nearest qualifying predecessor
// changes and returns one piece per resulting period. ParentID holds the
// 1-based index of the parent in resolved.
func resolveParents(resolved []piece, seg piece, chapters map[string]bool) []piece {
	child := seg.node
	var candidates []int
	var bounds []domain.ValidityRange
	for i := len(resolved) - 1; i >= 0; i-- {
		c := resolved[i].node
		if c.Period.Overlaps(child.Period) && qualifies(c, child) {
			candidates = append(candidates, i)
			bounds = append(bounds, c.Period)
		}
	}

	var parts []labelled[int]
	for _, part := range split(child.Period, bounds) {
		parent := -1
		for _, idx := range candidates {
			if resolved[idx].node.Period.Contains(part) {
				parent = idx
				break
			}
		}
		parts = append(parts, labelled[int]{period: part, label: parent})
	}

	var out []piece
	for _, part := range merge(parts) {
		n := child
		n.Period = part.period
		if part.label < 0 {
			out = append(out, orphan(n, chapters))
			continue
		}
		parent := resolved[part.label]
		switch {
		case parent.bad:
			out = append(out, piece{node: n, bad: true, reason: fmt.Sprintf("parent %s/%s is inconsistent", parent.node.ItemID, parent.node.Suffix)})
		case parent.node.Level < n.Level-1:
			out = append(out, piece{node: n, bad: true, reason: fmt.Sprintf("indent %d is more than one level below parent %s/%s", n.Indent, parent.node.ItemID, parent.node.Suffix)})
		default:
			n.ParentID = part.label + 1
			n.Depth = parent.node.Depth + 1
			out = append(out, piece{node: n})
		}
	}
	return out
}

// orphan resolves a piece with no parent candidate. Chapters and lines whose
// chapter lies outside the snapshot become roots.
func orphan(n Node, chapters map[string]bool) piece {
	if n.Level == 0 || !chapters[chapterOf(n.ItemID)] {
		n.Depth = n.Level + 1
		return piece{node: n}
	}
	return piece{node: n, bad: true, reason: "no parent covers the period"}
}

func chapterOf(itemID string) string {
	if len(itemID) < 2 {
		return itemID
	}
	return itemID[:2]
}
