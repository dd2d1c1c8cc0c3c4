package stages

import (
	"context"
	"strings"

	"github.com/transferpipe/core/internal/asset"
	"github.com/transferpipe/core/internal/diskspace"
	"github.com/transferpipe/core/internal/events"
)

// CheckDiskSpace verifies the destination volume has room for a download
// before any part is requested, withdrawing assets whose target volume
// lacks contentLength*safetyMargin free bytes. Assets whose target isn't
// a local file (an upload's remote target, or a download writing to
// s3/azblob) pass through untouched; diskspace.CheckAvailableSpace itself
// tolerates non-existent or unstatable paths by allowing the transfer to
// proceed and fail naturally.
func CheckDiskSpace(safetyMargin float64) func(context.Context, <-chan *asset.TransferAsset, *events.Bus) <-chan *asset.TransferAsset {
	return func(ctx context.Context, in <-chan *asset.TransferAsset, bus *events.Bus) <-chan *asset.TransferAsset {
		out := make(chan *asset.TransferAsset)
		go func() {
			defer close(out)
			for a := range in {
				if a.Target.Scheme() == "file" && a.Metadata != nil {
					path := strings.TrimPrefix(a.Target.URI, "file://")
					if err := diskspace.CheckAvailableSpace(path, a.Metadata.ContentLength, safetyMargin); err != nil {
						bus.NotifyError("CheckDiskSpace", a.Source.URI, err)
						continue
					}
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}
