// Package buffers provides a reusable byte-buffer pool for transfer parts,
// reducing GC pressure during concurrent upload/download operations.
package buffers

import (
	"sync"

	"github.com/transferpipe/core/internal/constants"
)

// partPool provides buffers sized to the default preferred part size. The
// Transfer stage reads an upload part's source range through one of
// these for each part whose length matches the pool's native size.
var partPool = &sync.Pool{
	New: func() interface{} {
		buf := make([]byte, constants.DefaultPreferredPartSize)
		return &buf
	},
}

// GetPartBuffer retrieves a buffer from the pool, sized to
// constants.DefaultPreferredPartSize. The buffer must be returned via
// PutPartBuffer when done.
func GetPartBuffer() *[]byte {
	return partPool.Get().(*[]byte)
}

// PutPartBuffer returns a buffer to the pool for reuse. Only buffers of
// the pool's native size are retained; mismatched sizes are dropped
// (e.g. a trailing part resliced smaller before being returned).
func PutPartBuffer(buf *[]byte) {
	if buf == nil || len(*buf) != constants.DefaultPreferredPartSize {
		return
	}
	clear(*buf)
	partPool.Put(buf)
}

// Stats reports the fixed size of buffers this pool hands out.
type Stats struct {
	PartBufferSize int
}

// GetStats returns the pool's current configuration.
func GetStats() Stats {
	return Stats{PartBufferSize: constants.DefaultPreferredPartSize}
}
