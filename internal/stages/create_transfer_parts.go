package stages

import (
	"context"
	"fmt"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/constants"
	"github.com/transferpipe/core/internal/events"
	"github.com/transferpipe/core/internal/interval"
)

// ErrInvalidPartSize is raised when the desired part size can't be made
// to satisfy both the part-count and the max-part-size constraint.
type ErrInvalidPartSize struct {
	AssetURI string
	Size     int64
	Max      int64
}

func (e *ErrInvalidPartSize) Error() string {
	return fmt.Sprintf("invalid part size %d (max %d) for %s", e.Size, e.Max, e.AssetURI)
}

// CreateTransferParts splits each asset's MultipartTarget into k =
// len(UploadURLs) TransferParts of clamped size, per §4.13: the first k-1
// parts get the clamped size and the last absorbs the remainder.
func CreateTransferParts(preferredPartSize int64) func(context.Context, <-chan *asset.TransferAsset, *events.Bus) <-chan *asset.TransferPart {
	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferPart {
		out := make(chan *asset.TransferPart)
		go func() {
			defer close(out)
			for a := range in {
				parts, err := splitParts(a, preferredPartSize)
				if err != nil {
					bus.NotifyError("CreateTransferParts", a.Source.URI, err)
					continue
				}
				for _, p := range parts {
					select {
					case out <- p:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out
	}
}

// downloadPartCount picks how many ranged-GET parts to split a download
// asset's content length into, since there's no AemInitiateUpload
// response to supply a URL-per-part count: one part per preferredPartSize
// (or constants.DefaultPreferredPartSize if unset), minimum one.
func downloadPartCount(n, preferredPartSize int64) int64 {
	size := preferredPartSize
	if size <= 0 {
		size = constants.DefaultPreferredPartSize
	}
	k := ceilDiv(n, size)
	if k < 1 {
		k = 1
	}
	return k
}

func splitParts(a *asset.TransferAsset, preferredPartSize int64) ([]*asset.TransferPart, error) {
	mt := a.MultipartTarget
	n := a.Metadata.ContentLength
	if mt == nil {
		// Download asset: no initiate response, so synthesize a target
		// with one placeholder URL per part (Transfer's download path
		// never reads TransferPart.TargetURLs) and the widest legal
		// part-size range.
		mt = &asset.MultipartTarget{
			UploadURLs:  make([]string, downloadPartCount(n, preferredPartSize)),
			MinPartSize: constants.MinPartSize,
			MaxPartSize: constants.MaxPartSize,
		}
	}
	k := int64(len(mt.UploadURLs))
	if k == 0 {
		return nil, fmt.Errorf("CreateTransferParts: no upload URLs for %s", a.Source.URI)
	}

	size := preferredPartSize
	if size == 0 {
		size = ceilDiv(n, k)
	}
	size = clamp(size, mt.MinPartSize, mt.MaxPartSize)

	if k == 1 {
		return []*asset.TransferPart{{
			Asset:        a,
			TargetURLs:   mt.UploadURLs,
			ContentRange: interval.Interval{Start: 0, End: n},
		}}, nil
	}

	// The first k-1 parts get the clamped size; the last part absorbs
	// whatever remains rather than every part's size being raised to
	// make the split divide evenly. Only fail if that remainder alone
	// can't fit within a single part.
	lastSize := n - size*(k-1)
	if lastSize > mt.MaxPartSize {
		return nil, &ErrInvalidPartSize{AssetURI: a.Source.URI, Size: lastSize, Max: mt.MaxPartSize}
	}

	parts := make([]*asset.TransferPart, 0, k)
	for i := int64(0); i < k; i++ {
		start := i * size
		if start >= n {
			break
		}
		end := start + size
		if i == k-1 || end > n {
			end = n
		}
		parts = append(parts, &asset.TransferPart{
			Asset:        a,
			TargetURLs:   []string{mt.UploadURLs[i]},
			ContentRange: interval.Interval{Start: start, End: end},
		})
	}
	return parts, nil
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
