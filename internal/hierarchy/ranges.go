package hierarchy

import (
	"slices"
	"time"

	"tariffcore/pkg/domain"
)

// split cuts r at every bound of ranges that falls strictly inside it. The
// returned pieces are contiguous, ordered and cover r exactly.
func split(r domain.ValidityRange, ranges []domain.ValidityRange) []domain.ValidityRange {
	inside := func(d time.Time) bool {
		return d.After(r.Lower) && (r.Upper == nil || !d.After(*r.Upper))
	}
	points := []time.Time{r.Lower}
	for _, x := range ranges {
		if inside(x.Lower) {
			points = append(points, x.Lower)
		}
		if x.Upper != nil {
			if next := x.Upper.AddDate(0, 0, 1); inside(next) {
				points = append(points, next)
			}
		}
	}
	slices.SortFunc(points, func(a, b time.Time) int { return a.Compare(b) })
	points = slices.CompactFunc(points, func(a, b time.Time) bool { return a.Equal(b) })

	out := make([]domain.ValidityRange, 0, len(points))
	for i, p := range points {
		piece := domain.ValidityRange{Lower: p}
		if i+1 < len(points) {
			end := points[i+1].AddDate(0, 0, -1)
			piece.Upper = &end
		} else if r.Upper != nil {
			end := *r.Upper
			piece.Upper = &end
		}
		out = append(out, piece)
	}
	return out
}

type labelled[T comparable] struct {
	period domain.ValidityRange
	label  T
}

// merge joins adjacent pieces carrying the same label.
func merge[T comparable](pieces []labelled[T]) []labelled[T] {
	var out []labelled[T]
	for _, p := range pieces {
		if n := len(out); n > 0 && out[n-1].label == p.label && out[n-1].period.IsAdjacent(p.period) {
			out[n-1].period.Upper = p.period.Upper
			continue
		}
		out = append(out, p)
	}
	return out
}

func dayBefore(d time.Time) *time.Time {
	prev := d.AddDate(0, 0, -1)
	return &prev
}
