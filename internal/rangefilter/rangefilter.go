// Package rangefilter clips a stream of byte chunks, arriving at a known
// running offset, down to the slice overlapping a single target interval.
package rangefilter

import "github.com/transferpipe/core/internal/interval"

// Filter tracks a running stream offset and, for each chunk pushed,
// returns only the portion overlapping Target. Not safe for concurrent use.
type Filter struct {
	Target       interval.Interval
	streamOffset int64
}

// New creates a Filter that will clip chunks to target. streamOffset is
// the absolute position of the first byte of the first chunk that will be
// pushed — 0 for a whole-body stream, or the server's actual range start
// for a stream that already begins partway through the asset.
func New(target interval.Interval, streamOffset int64) *Filter {
	return &Filter{Target: target, streamOffset: streamOffset}
}

// Push advances the stream offset by len(chunk) and returns the slice of
// chunk overlapping Target, or nil if chunk lies entirely outside it.
func (f *Filter) Push(chunk []byte) []byte {
	clip := f.Target.Intersect(f.streamOffset, int64(len(chunk)))
	f.streamOffset += int64(len(chunk))
	if clip.Empty() {
		return nil
	}
	return chunk[clip.Start:clip.End]
}

// Done reports whether the stream offset has advanced past Target.End,
// meaning no further pushed chunk can overlap it.
func (f *Filter) Done() bool {
	return f.streamOffset >= f.Target.End
}
