// Package interval implements half-open interval arithmetic over byte offsets
// and a disjoint-range accumulator used to track which portions of an asset
// have been transferred.
package interval

import (
	"fmt"
	"sort"
)

// Interval is a half-open range [Start, End) over non-negative offsets.
// Start must be <= End; Start == End denotes an empty interval.
type Interval struct {
	Start int64
	End   int64
}

// Empty reports whether the interval contains no offsets.
func (iv Interval) Empty() bool {
	return iv.Start >= iv.End
}

// Length returns End-Start, clamped to zero for an empty interval.
func (iv Interval) Length() int64 {
	if iv.Empty() {
		return 0
	}
	return iv.End - iv.Start
}

// Contains reports whether x falls within the interval.
func (iv Interval) Contains(x int64) bool {
	return x >= iv.Start && x < iv.End
}

// ContainsInterval reports whether other is fully covered by iv.
func (iv Interval) ContainsInterval(other Interval) bool {
	if other.Empty() {
		return true
	}
	return other.Start >= iv.Start && other.End <= iv.End
}

// Intersect returns the portion of iv that overlaps a chunk positioned at
// [streamOffset, streamOffset+chunkLen), translated to chunk-local offsets
// so the result can be used directly as a slice bound into the chunk
// buffer. Returns an empty Interval if there is no overlap.
func (iv Interval) Intersect(streamOffset, chunkLen int64) Interval {
	if iv.Empty() || chunkLen <= 0 {
		return Interval{}
	}
	chunk := Interval{Start: streamOffset, End: streamOffset + chunkLen}
	start := max64(iv.Start, chunk.Start)
	end := min64(iv.End, chunk.End)
	if start >= end {
		return Interval{}
	}
	return Interval{Start: start - streamOffset, End: end - streamOffset}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start, iv.End)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// DisjointRanges is a set of pairwise-disjoint, non-adjacent half-open
// ranges, kept sorted by Start. Add coalesces overlapping or touching
// ranges: adding [0,10) then [10,20) produces the single range [0,20).
// Not safe for concurrent use; callers serialize access (TransferTracker
// wraps one per asset behind a mutex).
type DisjointRanges struct {
	ranges []Interval
}

// NewDisjointRanges returns an empty set.
func NewDisjointRanges() *DisjointRanges {
	return &DisjointRanges{}
}

// Add inserts r, coalescing it with any overlapping or adjacent ranges
// already present. Adding a duplicate or fully-contained range is a no-op
// beyond the coalesce (idempotent). Panics if r.Start > r.End (an
// invariant violation, not a recoverable transfer error).
func (d *DisjointRanges) Add(r Interval) {
	if r.Start > r.End {
		panic(fmt.Sprintf("interval: invalid range %s", r))
	}
	if r.Empty() {
		return
	}

	merged := r
	kept := d.ranges[:0:0]
	for _, existing := range d.ranges {
		if existing.End < merged.Start || existing.Start > merged.End {
			kept = append(kept, existing)
			continue
		}
		if existing.Start < merged.Start {
			merged.Start = existing.Start
		}
		if existing.End > merged.End {
			merged.End = existing.End
		}
	}
	kept = append(kept, merged)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	d.ranges = kept
}

// Covers reports whether the accumulated ranges equal exactly [0, length).
func (d *DisjointRanges) Covers(length int64) bool {
	if length <= 0 {
		return len(d.ranges) == 0
	}
	if len(d.ranges) != 1 {
		return false
	}
	return d.ranges[0].Start == 0 && d.ranges[0].End == length
}

// TotalBytes returns the sum of lengths of all accumulated ranges.
func (d *DisjointRanges) TotalBytes() int64 {
	var total int64
	for _, r := range d.ranges {
		total += r.Length()
	}
	return total
}

// Ranges returns a copy of the current disjoint ranges, sorted by Start.
func (d *DisjointRanges) Ranges() []Interval {
	out := make([]Interval, len(d.ranges))
	copy(out, d.ranges)
	return out
}
