// Package ranges tracks half-open byte ranges kept sorted and coalesced.
package ranges

import (
	"fmt"
	"slices"

	"github.com/google/btree"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by r.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool { return r.End <= r.Start }

// Intersect returns the overlap of r and o, which may be empty.
func (r Range) Intersect(o Range) Range {
	out := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// String formats r as "[start, end)".
func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// Coalesce returns ranges sorted by start with overlapping and adjacent
// ranges merged and empty ranges dropped. The input is not modified.
func Coalesce(in []Range) []Range {
	sorted := make([]Range, 0, len(in))
	for _, r := range in {
		if !r.Empty() {
			sorted = append(sorted, r)
		}
	}
	slices.SortFunc(sorted, func(a, b Range) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	out := sorted[:0]
	for _, r := range sorted {
		if n := len(out); n > 0 && r.Start <= out[n-1].End {
			out[n-1].End = max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

const btreeDegree = 8

func lessByStart(a, b Range) bool { return a.Start < b.Start }

// Set is an ordered set of disjoint, non-adjacent ranges. Every insertion
// merges the new range with any range it overlaps or touches.
//
// The zero value is not usable; call NewSet.
type Set struct {
	tree *btree.BTreeG[Range]
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{tree: btree.NewG[Range](btreeDegree, lessByStart)}
}

// Add inserts r, merging it with overlapping or adjacent ranges.
// Empty ranges are ignored.
func (s *Set) Add(r Range) {
	if r.Empty() {
		return
	}
	merged := r

	// A range starting before r may reach into it.
	s.tree.DescendLessOrEqual(Range{Start: r.Start}, func(prev Range) bool {
		if prev.End >= merged.Start {
			merged.Start = prev.Start
			merged.End = max(merged.End, prev.End)
		}
		return false
	})

	var absorbed []Range
	s.tree.AscendGreaterOrEqual(Range{Start: merged.Start}, func(next Range) bool {
		if next.Start > merged.End {
			return false
		}
		merged.End = max(merged.End, next.End)
		absorbed = append(absorbed, next)
		return true
	})
	for _, a := range absorbed {
		s.tree.Delete(a)
	}
	s.tree.ReplaceOrInsert(merged)
}

// Ranges returns the ranges in ascending order.
func (s *Set) Ranges() []Range {
	out := make([]Range, 0, s.tree.Len())
	s.tree.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Len returns the number of disjoint ranges.
func (s *Set) Len() int { return s.tree.Len() }

// Empty reports whether the set holds no ranges.
func (s *Set) Empty() bool { return s.tree.Len() == 0 }

// Bytes returns the total number of bytes covered.
func (s *Set) Bytes() uint64 {
	var n uint64
	s.tree.Ascend(func(r Range) bool {
		n += r.Len()
		return true
	})
	return n
}

// Clear removes all ranges.
func (s *Set) Clear() { s.tree.Clear(false) }
